package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"hionago/internal/domain"
)

// Snapshot is one immutable view of the merged settings documents:
// api_credentials.json (keys and endpoints), default_settings.json
// (shipped defaults) and settings.json (user edits, highest priority).
// Components receive a Snapshot and never mutate it; Reload builds a
// fresh one.
type Snapshot struct {
	APIKey     string
	LLMBaseURL string
	LLMModel   string
	TTSBaseURL string
	TTSModel   string

	// VoiceMap maps character id -> emotion key -> provider voice id.
	VoiceMap map[string]map[string]string

	City           string
	PromptTemplate string

	Roster       domain.Roster
	AssetDefault domain.CharacterID

	DialogueModes     map[string]domain.ModeParams
	NamePronunciation map[string]string
	EnableVoice       bool

	// SemanticOverrides holds the raw per-character semantic map objects
	// exactly as written in settings.json. Kept raw because key order is
	// significant and encoding/json maps would lose it.
	SemanticOverrides map[domain.CharacterID]json.RawMessage
}

// Mode returns the parameters for key, falling back to "short" and then
// to safe built-ins, mirroring how every other read here degrades.
func (s Snapshot) Mode(key string) domain.ModeParams {
	if m, ok := s.DialogueModes[key]; ok {
		return m
	}
	if m, ok := s.DialogueModes["short"]; ok {
		return m
	}
	return domain.ModeParams{Name: "short", Desc: "当前是 short 模式，请合适地进行回复。", ContextLimit: 20, Temperature: 0.8}
}

// ResolveAlias maps a configured name or alias to a character id.
func (s Snapshot) ResolveAlias(label string) (domain.CharacterID, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}
	for _, c := range s.Roster.Characters {
		if label == c.Name || label == string(c.ID) {
			return c.ID, true
		}
		for _, a := range c.Aliases {
			if label == a {
				return c.ID, true
			}
		}
	}
	return "", false
}

// Store loads and serves settings snapshots. The settings editor (a
// separate part of the running product) rewrites settings.json at any
// time, so decision-point reads like VoiceEnabled go back to disk.
type Store struct {
	credentialsPath string
	defaultsPath    string
	settingsPath    string
	logger          *slog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

func NewStore(credentialsPath, defaultsPath, settingsPath string, logger *slog.Logger) *Store {
	return &Store{
		credentialsPath: credentialsPath,
		defaultsPath:    defaultsPath,
		settingsPath:    settingsPath,
		logger:          logger,
	}
}

// Load builds the initial snapshot. Unreadable or corrupt files degrade
// to built-in defaults; Load never fails the daemon.
func (s *Store) Load() Snapshot {
	snap := s.build()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap
}

// Reload is Load under another name, kept separate so call sites read as
// an explicit refresh.
func (s *Store) Reload() Snapshot { return s.Load() }

func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// VoiceEnabled re-reads settings.json on every call. The toggle must
// honor edits made mid-session from the settings editor, so a cached
// snapshot is not good enough here.
func (s *Store) VoiceEnabled() bool {
	doc := loadDoc(s.settingsPath, s.logger)
	raw, ok := doc["enable_voice"]
	if !ok {
		return true
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		return true
	}
	return enabled
}

// SaveAssetTable writes the scanned asset-code maps back into
// settings.json wholesale, preserving every other field. An unchanged
// table is not rewritten: the settings watcher watches this file, and
// reload paths that save the table would otherwise feed the watcher its
// own write events.
func (s *Store) SaveAssetTable(tags any) error {
	doc := loadDoc(s.settingsPath, s.logger)
	raw, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	doc["valid_asset_tags"] = raw
	buf, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	if prev, err := os.ReadFile(s.settingsPath); err == nil && bytes.Equal(prev, buf) {
		return nil
	}
	if err := os.WriteFile(s.settingsPath, buf, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func (s *Store) build() Snapshot {
	creds := loadDoc(s.credentialsPath, s.logger)
	defs := loadDoc(s.defaultsPath, s.logger)
	cur := loadDoc(s.settingsPath, s.logger)

	snap := Snapshot{
		APIKey:     docString(creds, "api_key", ""),
		LLMBaseURL: firstNonEmpty(docString(creds, "llm_base_url", ""), "https://api.siliconflow.cn/v1"),
		LLMModel:   firstNonEmpty(docString(creds, "llm_model", ""), docString(cur, "llm_model", ""), "deepseek-ai/DeepSeek-V3"),
		TTSBaseURL: firstNonEmpty(docString(creds, "tts_base_url", ""), "https://api.siliconflow.cn/v1"),
		TTSModel:   firstNonEmpty(docString(creds, "tts_model", ""), "FunAudioLLM/CosyVoice2-0.5B"),

		City:           firstNonEmpty(docString(cur, "city", ""), docString(defs, "city", ""), "北京"),
		PromptTemplate: firstNonEmpty(docString(cur, "prompt_template", ""), docString(defs, "prompt_template", "")),

		EnableVoice: true,
	}

	if raw, ok := creds["voice_settings"]; ok {
		_ = json.Unmarshal(raw, &snap.VoiceMap)
	}
	if snap.VoiceMap == nil {
		snap.VoiceMap = map[string]map[string]string{}
	}

	if raw, ok := cur["enable_voice"]; ok {
		_ = json.Unmarshal(raw, &snap.EnableVoice)
	}

	snap.DialogueModes = map[string]domain.ModeParams{}
	for _, doc := range []map[string]json.RawMessage{defs, cur} {
		if raw, ok := doc["dialogue_modes"]; ok {
			var modes map[string]domain.ModeParams
			if err := json.Unmarshal(raw, &modes); err == nil {
				for k, v := range modes {
					if v.ContextLimit <= 0 {
						v.ContextLimit = 20
					}
					if v.Temperature <= 0 {
						v.Temperature = 0.8
					}
					snap.DialogueModes[k] = v
				}
			}
		}
	}
	if len(snap.DialogueModes) == 0 {
		snap.DialogueModes = map[string]domain.ModeParams{
			"short":  {Name: "日常短句", Desc: "回复 1~3 条短句。", ContextLimit: 20, Temperature: 0.8},
			"medium": {Name: "深度互动", Desc: "回复 3~6 条，允许展开。", ContextLimit: 30, Temperature: 0.8},
			"story":  {Name: "剧本长谈", Desc: "输出完整多段剧本。", ContextLimit: 40, Temperature: 0.9},
		}
	}

	snap.NamePronunciation = map[string]string{}
	for _, doc := range []map[string]json.RawMessage{defs, cur} {
		if raw, ok := doc["name_pronunciation_map"]; ok {
			var m map[string]string
			if err := json.Unmarshal(raw, &m); err == nil && len(m) > 0 {
				snap.NamePronunciation = m
			}
		}
	}

	snap.Roster = buildRoster(defs, cur)
	snap.AssetDefault = domain.CharNagomu
	if v := docString(cur, "asset_default_character", ""); v != "" {
		snap.AssetDefault = domain.CharacterID(v)
	}

	snap.SemanticOverrides = map[domain.CharacterID]json.RawMessage{}
	for _, c := range snap.Roster.Characters {
		key := "emotion_semantic_map_" + string(c.ID)
		if raw, ok := cur[key]; ok {
			snap.SemanticOverrides[c.ID] = raw
		} else if raw, ok := defs[key]; ok {
			snap.SemanticOverrides[c.ID] = raw
		}
	}

	return snap
}

// buildRoster supports both document shapes: an explicit "characters"
// array, and the legacy flat char_name_/char_alias_/color_ fields plus
// nested character_profiles for the two shipped characters.
func buildRoster(defs, cur map[string]json.RawMessage) domain.Roster {
	type charSpec struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Aliases []string `json:"aliases"`
		Color   string   `json:"color"`
		Profile string   `json:"profile"`
	}
	for _, doc := range []map[string]json.RawMessage{cur, defs} {
		raw, ok := doc["characters"]
		if !ok {
			continue
		}
		var specs []charSpec
		if err := json.Unmarshal(raw, &specs); err != nil || len(specs) == 0 {
			continue
		}
		roster := domain.Roster{}
		for _, sp := range specs {
			if sp.ID == "" {
				continue
			}
			roster.Characters = append(roster.Characters, domain.Character{
				ID:          domain.CharacterID(sp.ID),
				Name:        firstNonEmpty(sp.Name, sp.ID),
				Aliases:     sp.Aliases,
				Color:       sp.Color,
				Profile:     sp.Profile,
				Placeholder: "{" + strings.ToUpper(sp.ID) + "_INFO}",
			})
		}
		if len(roster.Characters) > 0 {
			roster.Default = roster.Characters[0].ID
			return roster
		}
	}

	pick := func(key, fallback string) string {
		return firstNonEmpty(docString(cur, key, ""), docString(defs, key, ""), fallback)
	}
	profile := func(id string) string {
		flat := strings.ToLower(id) + "_info"
		if v := firstNonEmpty(docString(cur, flat, ""), docString(defs, flat, "")); v != "" {
			return v
		}
		for _, doc := range []map[string]json.RawMessage{cur, defs} {
			raw, ok := doc["character_profiles"]
			if !ok {
				continue
			}
			var profiles map[string]string
			if err := json.Unmarshal(raw, &profiles); err == nil {
				if v := profiles[id]; v != "" {
					return v
				}
			}
		}
		return ""
	}

	return domain.Roster{
		Characters: []domain.Character{
			{
				ID:          domain.CharHiori,
				Name:        pick("char_name_hiori", "Hiori"),
				Aliases:     splitAliases(pick("char_alias_hiori", "")),
				Color:       pick("color_hiori", "#1B2647"),
				Profile:     profile("Hiori"),
				Placeholder: "{HIORI_INFO}",
			},
			{
				ID:          domain.CharNagomu,
				Name:        pick("char_name_nagomu", "Nagomu"),
				Aliases:     splitAliases(pick("char_alias_nagomu", "")),
				Color:       pick("color_nagomu", "#5D4037"),
				Profile:     profile("Nagomu"),
				Placeholder: "{NAGOMU_INFO}",
			},
		},
		Default: domain.CharHiori,
	}
}

func splitAliases(raw string) []string {
	raw = strings.ReplaceAll(raw, "，", ",")
	var out []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func loadDoc(path string, logger *slog.Logger) map[string]json.RawMessage {
	buf, err := os.ReadFile(path)
	if err != nil {
		return map[string]json.RawMessage{}
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(buf, &doc); err != nil {
		if logger != nil {
			logger.Warn("settings document unreadable, using defaults", "path", path, "error", err)
		}
		return map[string]json.RawMessage{}
	}
	return doc
}

func docString(doc map[string]json.RawMessage, key, fallback string) string {
	raw, ok := doc[key]
	if !ok {
		return fallback
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	if v == "" {
		return fallback
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
