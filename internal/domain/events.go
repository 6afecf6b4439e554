package domain

// Events carried on the internal bus and mirrored to the overlay
// transport. Each event names what happened; the overlay decides how to
// render it.

type Event interface {
	Kind() string
}

// TurnCompleted carries the resolved line sequence of a finished turn.
// Lines may be empty when the backend failed or returned nothing usable.
type TurnCompleted struct {
	Turn Turn `json:"turn"`
}

func (TurnCompleted) Kind() string { return "turn.completed" }

// LineStarted is published when the sequencer begins rendering a line.
type LineStarted struct {
	TurnID uint64       `json:"turn_id"`
	Index  int          `json:"index"`
	Line   DialogueLine `json:"line"`
	Color  string       `json:"color,omitempty"`
	Name   string       `json:"name,omitempty"`
}

func (LineStarted) Kind() string { return "line.started" }

// LineAdvance signals that a line finished (audio done or timer elapsed)
// and the sequencer is moving on.
type LineAdvance struct {
	TurnID uint64 `json:"turn_id"`
	Index  int    `json:"index"`
}

func (LineAdvance) Kind() string { return "line.advance" }

// SynthesisFailed reports a per-line voice failure. Playback continues.
type SynthesisFailed struct {
	TurnID uint64 `json:"turn_id"`
	Index  int    `json:"index"`
	Error  string `json:"error"`
}

func (SynthesisFailed) Kind() string { return "synthesis.failed" }

// TurnDrained fires after the grace delay once a turn's queue is empty;
// the overlay fades the bubble out.
type TurnDrained struct {
	TurnID uint64 `json:"turn_id"`
}

func (TurnDrained) Kind() string { return "turn.drained" }

// Toast is a short-lived non-blocking notice.
type Toast struct {
	Message string `json:"message"`
}

func (Toast) Kind() string { return "toast" }

// AssetsRescanned announces a wholesale asset table rebuild.
type AssetsRescanned struct {
	StaticCount int `json:"static_count"`
	Live2DCount int `json:"live2d_count"`
}

func (AssetsRescanned) Kind() string { return "assets.rescanned" }

// SettingsReloaded announces a fresh settings snapshot.
type SettingsReloaded struct{}

func (SettingsReloaded) Kind() string { return "settings.reloaded" }
