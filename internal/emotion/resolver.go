package emotion

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"

	"hionago/internal/domain"
)

// NeutralCode is returned whenever a tag matches nothing.
const NeutralCode = "0.0"

// Entry is one (expression code, keyword set) pair. The merged table is
// a slice, not a map: the first matching code wins, so insertion order
// must survive. Defaults come first, then override and supplement codes
// in file order.
type Entry struct {
	Code     string
	Keywords []string
}

// DefaultEntries is the built-in 16-code semantic dictionary.
func DefaultEntries() []Entry {
	return []Entry{
		{"0.0", []string{"平淡", "日常", "冷静", "思考", "normal", "calm"}},
		{"1.0", []string{"温柔", "微笑", "注视", "宠溺", "smile", "happy"}},
		{"2.0", []string{"戏谑", "腹黑", "调侃", "掌控", "teasing", "s-mode"}},
		{"3.0", []string{"优雅", "深沉", "执着", "占有", "elegant", "obsessive"}},
		{"4.0", []string{"害羞", "脸红", "无措", "尴尬", "blush", "shy"}},
		{"5.0", []string{"受惊", "震撼", "吓一跳", "呆滞", "shock", "surprised"}},
		{"6.0", []string{"委屈", "难过", "湿漉漉的眼神", "失落", "sad", "pout"}},
		{"7.0", []string{"生气", "威压", "严肃", "低沉", "angry", "serious"}},
		{"8.0", []string{"依赖", "求助", "抓住衣角", "不安", "dependent", "help"}},
		{"9.0", []string{"受难", "虚弱", "病娇", "喘息", "weak", "hurt"}},
		{"10.0", []string{"认真", "侦探模式", "锐利", "推理", "detective", "focus"}},
		{"11.0", []string{"困惑", "不解", "歪头", "吐槽", "confused", "question"}},
		{"12.0", []string{"得逞", "坏笑", "愉悦", "狂气", "smirk", "laugh"}},
		{"13.0", []string{"疲惫", "困倦", "无奈", "叹气", "tired", "sigh"}},
		{"14.0", []string{"期待", "闪亮", "好奇", "兴奋", "excited", "sparkle"}},
		{"15.0", []string{"空洞", "绝望", "崩坏", "失神", "broken", "empty"}},
	}
}

// Resolver classifies free-text emotion tags into expression codes using
// a per-character merged dictionary. Tables are rebuilt wholesale on
// settings reloads; Resolve only ever reads a complete snapshot.
type Resolver struct {
	mu     sync.RWMutex
	tables map[domain.CharacterID][]Entry
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{tables: map[domain.CharacterID][]Entry{}, logger: logger}
}

// Rebuild merges, for every roster character: the built-in defaults,
// that character's override object from settings (raw bytes, key order
// preserved), and the shared supplement file. Keyword lists are unioned
// on code collision; all-new codes are appended in file order.
func (r *Resolver) Rebuild(roster domain.Roster, overrides map[domain.CharacterID]json.RawMessage, supplementPath string) {
	var supplement []Entry
	if supplementPath != "" {
		if buf, err := os.ReadFile(supplementPath); err == nil {
			supplement = parseOrderedEntries(buf)
		}
	}

	tables := make(map[domain.CharacterID][]Entry, len(roster.Characters))
	for _, c := range roster.Characters {
		merged := cloneEntries(DefaultEntries())
		merged = mergeEntries(merged, parseOrderedEntries(overrides[c.ID]))
		merged = mergeEntries(merged, supplement)
		tables[c.ID] = merged
	}

	r.mu.Lock()
	r.tables = tables
	r.mu.Unlock()
}

// Resolve maps a raw tag to an expression code for the given speaker.
// Matching is case-insensitive substring containment, first code wins.
// Unmatched or empty tags resolve to the neutral code; Resolve never
// fails.
func (r *Resolver) Resolve(speaker domain.CharacterID, rawTag string) string {
	tag := strings.ToLower(strings.TrimSpace(rawTag))
	if tag == "" {
		return NeutralCode
	}

	r.mu.RLock()
	entries, ok := r.tables[speaker]
	r.mu.RUnlock()
	if !ok {
		entries = DefaultEntries()
	}

	for _, e := range entries {
		for _, kw := range e.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(tag, kw) {
				return e.Code
			}
		}
	}
	return NeutralCode
}

// Entries returns the merged table for a speaker, for the settings UI.
func (r *Resolver) Entries(speaker domain.CharacterID) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneEntries(r.tables[speaker])
}

func mergeEntries(base, extra []Entry) []Entry {
	index := make(map[string]int, len(base))
	for i, e := range base {
		index[e.Code] = i
	}
	for _, e := range extra {
		if i, ok := index[e.Code]; ok {
			base[i].Keywords = unionKeywords(base[i].Keywords, e.Keywords)
			continue
		}
		index[e.Code] = len(base)
		base = append(base, Entry{Code: e.Code, Keywords: append([]string(nil), e.Keywords...)})
	}
	return base
}

func unionKeywords(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, k := range base {
		seen[k] = struct{}{}
	}
	for _, k := range extra {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		base = append(base, k)
	}
	return base
}

// parseOrderedEntries decodes a {"code": ["kw", ...]} object while
// preserving key order, which encoding/json maps would shuffle.
// Malformed members are skipped, never fatal.
func parseOrderedEntries(raw []byte) []Entry {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var out []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return out
		}
		code, ok := keyTok.(string)
		if !ok {
			return out
		}
		var keywords []string
		if err := dec.Decode(&keywords); err != nil {
			// Value is not a string list; drop this member and stop,
			// the decoder position is no longer trustworthy.
			return out
		}
		out = append(out, Entry{Code: code, Keywords: keywords})
	}
	return out
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Code: e.Code, Keywords: append([]string(nil), e.Keywords...)}
	}
	return out
}
