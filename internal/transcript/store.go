package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"hionago/internal/domain"
)

// Store persists the plain-text transcript and favorites files. The
// format is line oriented and shared with the browsing panel, so it is
// part of the on-disk contract: a user-input marker line followed by
// one "speaker|emotion: speech|display" line per dialogue line.
type Store struct {
	historyPath   string
	favoritesPath string
	logger        *slog.Logger
	now           func() time.Time

	mu sync.Mutex
}

func NewStore(historyPath, favoritesPath string, logger *slog.Logger) *Store {
	return &Store{
		historyPath:   historyPath,
		favoritesPath: favoritesPath,
		logger:        logger,
		now:           time.Now,
	}
}

// AppendTurn records one finished turn: the user input marker, then
// every line. Called exactly once per turn, before playback starts, so
// the transcript survives even if the process dies mid-playback.
func (s *Store) AppendTurn(input string, lines []domain.DialogueLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "\n[USER_INPUT]: %s\n", sanitize(input))
	for _, l := range lines {
		fmt.Fprintf(&b, "%s|%s: %s|%s\n", l.Speaker, l.RawEmotion, sanitize(l.SpeechText), sanitize(l.DisplayText))
	}
	return appendFile(s.historyPath, b.String())
}

// TailLines returns the last n raw transcript lines joined verbatim,
// markers included. This is the conversation context handed to the
// model.
func (s *Store) TailLines(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := os.ReadFile(s.historyPath)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Entry is one parsed dialogue line from the transcript.
type Entry struct {
	Speaker string `json:"speaker"`
	Emotion string `json:"emotion"`
	Speech  string `json:"speech"`
	Display string `json:"display"`
}

// ReadEntries parses the transcript back into structured entries,
// newest first, skipping marker lines and anything corrupt. limit <= 0
// means everything.
func (s *Store) ReadEntries(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := os.ReadFile(s.historyPath)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(buf), "\n")
	var out []Entry
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "[USER") || !strings.Contains(line, "|") {
			continue
		}
		speaker, rest, _ := strings.Cut(line, "|")
		emotion, content, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		speech, display := content, ""
		if idx := strings.LastIndex(content, "|"); idx >= 0 {
			speech, display = content[:idx], content[idx+1:]
		}
		out = append(out, Entry{
			Speaker: strings.Trim(speaker, "[] "),
			Emotion: strings.TrimSpace(emotion),
			Speech:  strings.TrimSpace(speech),
			Display: strings.TrimSpace(display),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// AppendFavorite archives a full turn into the favorites file as a
// single timestamped record.
func (s *Store) AppendFavorite(lines []domain.DialogueLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("nothing to archive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s:%s@%s", l.Speaker, sanitize(l.SpeechText), sanitize(l.DisplayText)))
	}
	record := fmt.Sprintf("%s | %s\n", s.now().Format("2006-01-02 15:04"), strings.Join(parts, " || "))
	return appendFile(s.favoritesPath, record)
}

// sanitize keeps multi-line model text from breaking the line-oriented
// grammar.
func sanitize(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r", " "), "\n", " ")
}

func appendFile(path, data string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}
