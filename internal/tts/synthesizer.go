package tts

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hionago/internal/domain"
	"hionago/internal/settings"
)

// Synthesizer turns one cleaned line into a cached MP3 file via an
// OpenAI-compatible /audio/speech endpoint. The cache is content
// addressed on (speaker, cleaned text), so a repeated line is served
// from disk without another network call.
type Synthesizer struct {
	client   *http.Client
	voiceDir string
	snapshot func() settings.Snapshot
	logger   *slog.Logger
}

func NewSynthesizer(client *http.Client, voiceDir string, snapshot func() settings.Snapshot, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{client: client, voiceDir: voiceDir, snapshot: snapshot, logger: logger}
}

// CleanForSpeech prepares text for the synthesizer: name-pronunciation
// substitutions first, then a charset filter keeping only kana, han and
// basic sentence punctuation. The synthesizer chokes on anything else.
func CleanForSpeech(text string, pronunciation map[string]string) string {
	for raw, pron := range pronunciation {
		text = strings.ReplaceAll(text, raw, pron)
	}
	var b strings.Builder
	for _, r := range text {
		if keepForSpeech(r) {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "、。 ")
}

func keepForSpeech(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x309F: // hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // katakana
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // unified ideographs
		return true
	case r == 'ー' || r == '、' || r == '。' || r == '！' || r == '？':
		return true
	}
	return false
}

// CachePath is the deterministic output path for (speaker, text). Other
// parts of the product (the history panel) derive the same path to test
// whether a line already has audio on disk.
func (s *Synthesizer) CachePath(speaker domain.CharacterID, text string) string {
	snap := s.snapshot()
	clean := CleanForSpeech(text, snap.NamePronunciation)
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s", speaker, clean)))
	return filepath.Join(s.voiceDir, fmt.Sprintf("v_%x.mp3", sum))
}

// Synthesize returns the path of a playable MP3 for the line, hitting
// the backend only on cache miss. An empty return with nil error means
// the line has no synthesizable content and playback should just move
// on.
func (s *Synthesizer) Synthesize(ctx context.Context, speaker domain.CharacterID, emotionKey, text string) (string, error) {
	snap := s.snapshot()
	clean := CleanForSpeech(text, snap.NamePronunciation)
	if clean == "" {
		return "", nil
	}

	if err := os.MkdirAll(s.voiceDir, 0o755); err != nil {
		return "", err
	}

	path := s.CachePath(speaker, text)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	voiceID := pickVoice(snap.VoiceMap[string(speaker)], emotionKey)
	if voiceID == "" {
		return "", fmt.Errorf("no voice configured for %s", speaker)
	}

	payload := map[string]any{
		"model": snap.TTSModel,
		"voice": voiceID,
		// The leading pause keeps the model from swallowing the first
		// syllable.
		"input":           "、、、 " + clean,
		"response_format": "mp3",
		"temperature":     0.0001,
		"top_p":           0.01,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(snap.TTSBaseURL, "/")+"/audio/speech", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+snap.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("tts status %d: %s", resp.StatusCode, string(body))
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// pickVoice prefers the emotion-specific voice id and falls back to the
// first configured one in stable order.
func pickVoice(voices map[string]string, emotionKey string) string {
	if v := voices[emotionKey]; v != "" {
		return v
	}
	keys := make([]string, 0, len(voices))
	for k := range voices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if voices[k] != "" {
			return voices[k]
		}
	}
	return ""
}
