package domain

// CharacterID identifies one roster character. The two shipped characters
// have fixed IDs; extra characters can be registered through settings.
type CharacterID string

const (
	CharHiori  CharacterID = "Hiori"
	CharNagomu CharacterID = "Nagomu"
)

// Character is one roster entry. Profile is the persona text substituted
// into the prompt template; Placeholder is the template token it replaces
// (e.g. "{HIORI_INFO}").
type Character struct {
	ID          CharacterID `json:"id"`
	Name        string      `json:"name"`
	Aliases     []string    `json:"aliases,omitempty"`
	Color       string      `json:"color,omitempty"`
	Profile     string      `json:"profile,omitempty"`
	Placeholder string      `json:"-"`
}

// Roster is the closed set of characters for one running instance.
// Order is significant: filename attribution and alias resolution walk
// the roster in declared order. Default receives unattributable assets
// and unidentifiable speakers.
type Roster struct {
	Characters []Character
	Default    CharacterID
}

func (r Roster) ByID(id CharacterID) (Character, bool) {
	for _, c := range r.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

func (r Roster) IDs() []CharacterID {
	out := make([]CharacterID, 0, len(r.Characters))
	for _, c := range r.Characters {
		out = append(out, c.ID)
	}
	return out
}

// TriggerKind distinguishes a typed user turn from an ambient
// screen-perception turn.
type TriggerKind string

const (
	TriggerDirect   TriggerKind = "direct"
	TriggerPerceive TriggerKind = "perceive"
)

// DialogueLine is one spoken line of a turn. Immutable after creation.
// SpeechText has bracketed stage directions stripped so the synthesizer
// never vocalizes them; DisplayText keeps them for the bubble.
type DialogueLine struct {
	Speaker     CharacterID `json:"speaker"`
	RawEmotion  string      `json:"emotion"`
	Code        string      `json:"code"`
	SpeechText  string      `json:"speech_text"`
	DisplayText string      `json:"display_text"`
	AssetFile   string      `json:"asset_file,omitempty"`
}

// Turn is one user-input-to-full-response cycle. At most one turn is in
// flight; ID is monotonically increasing and used to discard stale
// completions.
type Turn struct {
	ID      uint64         `json:"turn_id"`
	Input   string         `json:"input"`
	Forced  CharacterID    `json:"forced_speaker,omitempty"`
	Mode    string         `json:"mode"`
	Trigger TriggerKind    `json:"trigger"`
	Lines   []DialogueLine `json:"lines"`
}

// TurnRequest is the submit payload from the overlay.
type TurnRequest struct {
	Text        string      `json:"text"`
	Forced      CharacterID `json:"forced_speaker,omitempty"`
	Mode        string      `json:"mode,omitempty"`
	WindowTitle string      `json:"window_title,omitempty"`
}

// ModeParams are the per-mode generation parameters from settings.
type ModeParams struct {
	Name         string  `json:"name"`
	Desc         string  `json:"desc"`
	ContextLimit int     `json:"context_limit"`
	Temperature  float64 `json:"temperature"`
}

// LLMRequest is a single chat-completion call.
type LLMRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
}
