package script

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"hionago/internal/domain"
)

// rawLine is the wire shape one record of the model's JSON array is
// expected to have. Field-level defaulting happens after decode; the
// model is not trusted to fill everything in.
type rawLine struct {
	Speaker string `json:"speaker"`
	Emotion string `json:"emotion"`
	JA      string `json:"ja"`
	ZH      string `json:"zh"`
}

var (
	arrayPattern  = regexp.MustCompile(`(?s)\[.*\]`)
	namePrefix    = regexp.MustCompile(`^.*?[:：\s]+`)
	bracketedSpan = regexp.MustCompile(`[(\x{ff08}\[\x{3010}].*?[)\x{ff09}\]\x{3011}]`)
)

// Parser turns raw model output into dialogue lines. It never returns
// an error: anything unusable yields an empty sequence and the caller
// treats that as "no content produced".
type Parser struct {
	resolveAlias func(string) (domain.CharacterID, bool)
	fallback     domain.CharacterID
	logger       *slog.Logger
}

// NewParser builds a parser. resolveAlias consults the configured
// name/alias table; fallback is used when every identification layer
// fails.
func NewParser(resolveAlias func(string) (domain.CharacterID, bool), fallback domain.CharacterID, logger *slog.Logger) *Parser {
	return &Parser{resolveAlias: resolveAlias, fallback: fallback, logger: logger}
}

// Parse extracts the embedded JSON array from raw and normalizes each
// record into a DialogueLine with cleaned text channels. Emotion codes
// and asset files are resolved later by the orchestrator.
func (p *Parser) Parse(raw string) []domain.DialogueLine {
	body, ok := ExtractArray(raw)
	if !ok {
		p.logger.Warn("no script array in model output", "length", len(raw))
		return nil
	}

	var records []rawLine
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		p.logger.Warn("script array decode failed", "error", err)
		return nil
	}

	lines := make([]domain.DialogueLine, 0, len(records))
	for _, rec := range records {
		emotion := strings.ToLower(strings.TrimSpace(rec.Emotion))
		if emotion == "" {
			emotion = "normal"
		}
		lines = append(lines, domain.DialogueLine{
			Speaker:     p.identifySpeaker(rec),
			RawEmotion:  emotion,
			SpeechText:  CleanText(rec.JA, true, rec.ZH),
			DisplayText: CleanText(rec.ZH, false, rec.JA),
		})
	}
	return lines
}

// ExtractArray finds the outermost bracketed array substring in
// otherwise free text. Deliberately lenient: the backend wraps its JSON
// in prose more often than not. Kept as a single function so a strict
// structured-output mode can replace it without touching field
// defaulting.
func ExtractArray(raw string) (string, bool) {
	m := arrayPattern.FindString(raw)
	if m == "" {
		return "", false
	}
	return m, true
}

// identifySpeaker resolves the speaker label through four layers:
// configured aliases, per-character label keywords, keywords in the
// text content itself (a line addressing one character belongs to the
// other), then the fallback character. Model output is unreliable about
// exact speaker naming across languages, hence the depth.
func (p *Parser) identifySpeaker(rec rawLine) domain.CharacterID {
	label := strings.TrimSpace(rec.Speaker)
	if id, ok := p.resolveAlias(label); ok {
		return id
	}

	labelLower := strings.ToLower(label)
	if containsAny(labelLower, nagomuLabelHints) {
		return domain.CharNagomu
	}
	if containsAny(labelLower, hioriLabelHints) {
		return domain.CharHiori
	}

	content := strings.ToLower(rec.JA + rec.ZH)
	if containsAny(content, nagomuContentHints) {
		return domain.CharHiori
	}
	if containsAny(content, hioriContentHints) {
		return domain.CharNagomu
	}

	return p.fallback
}

// Label and content keyword hints for the two shipped characters, in
// the scripts' working languages.
var (
	nagomuLabelHints   = []string{"nagomu", "阿和", "和"}
	hioriLabelHints    = []string{"hiori", "日织", "日織"}
	nagomuContentHints = []string{"阿和", "和さん", "名探偵", "nagomu"}
	hioriContentHints  = []string{"日织", "日織", "hiori"}
)

// CleanText normalizes one text channel.
//
// speech=true is the synthesis channel: every bracketed span (ASCII and
// full-width, round and square) is removed so the synthesizer never
// vocalizes stage directions. speech=false is the display channel and
// keeps them, but rewrites 阿和先生 to 阿和: the prompt forbids the
// honorific and the model attaches it anyway. Both channels fall back
// to the legacy pipe-delimited dual-value convention when the primary
// field is empty, and both strip a leading name prefix the model
// sometimes repeats.
func CleanText(text string, speech bool, alt string) string {
	raw := strings.TrimSpace(text)

	if (raw == "" || raw == "None") && strings.Contains(alt, "|") {
		parts := strings.Split(alt, "|")
		if speech {
			raw = parts[0]
		} else {
			raw = parts[len(parts)-1]
		}
	}

	for _, sep := range []string{"|", "｜"} {
		if strings.Contains(raw, sep) {
			parts := strings.Split(raw, sep)
			if speech {
				raw = parts[0]
			} else {
				raw = parts[len(parts)-1]
			}
		}
	}

	raw = namePrefix.ReplaceAllString(raw, "")

	if speech {
		raw = bracketedSpan.ReplaceAllString(raw, "")
	} else {
		raw = strings.ReplaceAll(raw, "阿和先生", "阿和")
	}

	return strings.TrimSpace(raw)
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
