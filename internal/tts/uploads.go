package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// UploadReferenceVoice registers a local audio sample as a cloned voice
// for one character/emotion slot and returns the provider's voice URI.
// The caller is expected to write the URI back into the voice map.
func (s *Synthesizer) UploadReferenceVoice(ctx context.Context, samplePath, customName, sampleText string) (string, error) {
	snap := s.snapshot()

	f, err := os.Open(samplePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(samplePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	_ = w.WriteField("model", snap.TTSModel)
	_ = w.WriteField("customName", customName)
	_ = w.WriteField("text", sampleText)
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(snap.TTSBaseURL, "/")+"/uploads/audio/voice", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+snap.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	buf, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("voice upload status %d: %s", resp.StatusCode, string(buf))
	}

	var parsed struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return "", err
	}
	if parsed.URI == "" {
		return "", fmt.Errorf("voice upload returned no uri")
	}
	return parsed.URI, nil
}

// Transcribe runs speech recognition over a local audio file, used to
// recover the reference text of a voice sample before cloning it.
func (s *Synthesizer) Transcribe(ctx context.Context, samplePath string) (string, error) {
	snap := s.snapshot()

	f, err := os.Open(samplePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(samplePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	_ = w.WriteField("model", "FunAudioLLM/SenseVoiceSmall")
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(snap.TTSBaseURL, "/")+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+snap.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	buf, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, string(buf))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return "", err
	}
	return strings.TrimSpace(parsed.Text), nil
}
