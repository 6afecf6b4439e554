package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"hionago/internal/audio"
	"hionago/internal/domain"
)

const (
	audioPollInterval = 250 * time.Millisecond
	synthFailDelay    = 2 * time.Second
	emptyAudioDelay   = 500 * time.Millisecond
	silentBaseDelay   = 3 * time.Second
	silentPerRune     = 175 * time.Millisecond
	drainGrace        = 3 * time.Second
)

// Clock abstracts timer creation so the line pacing can be tested
// without real waits.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Synth is the voice backend as the sequencer sees it. An empty path
// with nil error means the line has nothing to speak.
type Synth interface {
	Synthesize(ctx context.Context, speaker domain.CharacterID, emotionKey, text string) (string, error)
}

// Sequencer plays one turn's lines in order. Exactly one turn is active
// at a time; Start on a new turn cancels whatever the previous one was
// doing. Every asynchronous continuation (synthesis completion, audio
// polling, timers) carries the generation it was scheduled under and is
// discarded if the sequencer has moved on since.
type Sequencer struct {
	synth        Synth
	player       audio.Player
	publish      func(domain.Event)
	voiceEnabled func() bool
	roster       func() domain.Roster
	clock        Clock
	logger       *slog.Logger

	mu     sync.Mutex
	gen    uint64
	turn   domain.Turn
	index  int
	active bool
	timer  Timer
}

func NewSequencer(synth Synth, player audio.Player, publish func(domain.Event), voiceEnabled func() bool, roster func() domain.Roster, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		synth:        synth,
		player:       player,
		publish:      publish,
		voiceEnabled: voiceEnabled,
		roster:       roster,
		clock:        realClock{},
		logger:       logger,
	}
}

// Start begins playback of a turn, preempting any active one.
func (s *Sequencer) Start(turn domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopTimerLocked()
	s.player.Stop()

	if len(turn.Lines) == 0 {
		s.active = false
		return
	}
	s.turn = turn
	s.index = 0
	s.active = true
	s.startLineLocked()
}

// Stop cancels the active turn outright: the pending timer, any queued
// lines, and whatever audio is playing. Used when a new submission must
// clear the stage before its own script is even ready.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopTimerLocked()
	s.player.Stop()
	s.turn = domain.Turn{}
	s.index = 0
	s.active = false
}

// Advance skips the current line immediately. During the drain grace it
// dismisses the turn instead.
func (s *Sequencer) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	if s.index >= len(s.turn.Lines) {
		s.gen++
		s.stopTimerLocked()
		s.publish(domain.TurnDrained{TurnID: s.turn.ID})
		s.active = false
		return
	}
	s.advanceLocked()
}

// Active reports whether a turn is still on screen.
func (s *Sequencer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// startLineLocked announces the line and kicks off whatever will end
// it: audio playback or the silent reading timer. The voice toggle is
// read fresh per line so a settings edit takes effect mid-turn.
func (s *Sequencer) startLineLocked() {
	line := s.turn.Lines[s.index]
	ev := domain.LineStarted{TurnID: s.turn.ID, Index: s.index, Line: line}
	if c, ok := s.roster().ByID(line.Speaker); ok {
		ev.Color = c.Color
		ev.Name = c.Name
	}
	s.publish(ev)

	if !s.voiceEnabled() {
		delay := silentBaseDelay + time.Duration(utf8.RuneCountInString(line.DisplayText))*silentPerRune
		s.scheduleLocked(delay, s.timedAdvance)
		return
	}

	gen := s.gen
	go func() {
		path, err := s.synth.Synthesize(context.Background(), line.Speaker, line.RawEmotion, line.SpeechText)
		s.onSynthDone(gen, path, err)
	}()
}

func (s *Sequencer) onSynthDone(gen uint64, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	if err != nil {
		s.logger.Warn("synthesis failed", "turn", s.turn.ID, "index", s.index, "error", err)
		s.publish(domain.SynthesisFailed{TurnID: s.turn.ID, Index: s.index, Error: err.Error()})
		s.scheduleLocked(synthFailDelay, s.timedAdvance)
		return
	}
	if path == "" {
		s.scheduleLocked(emptyAudioDelay, s.timedAdvance)
		return
	}
	if err := s.player.Play(path); err != nil {
		s.logger.Warn("audio playback failed", "path", path, "error", err)
		s.publish(domain.SynthesisFailed{TurnID: s.turn.ID, Index: s.index, Error: err.Error()})
		s.scheduleLocked(synthFailDelay, s.timedAdvance)
		return
	}
	s.scheduleLocked(audioPollInterval, s.pollAudio)
}

// pollAudio re-arms itself until the player goes idle.
func (s *Sequencer) pollAudio(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	if s.player.Busy() {
		s.scheduleLocked(audioPollInterval, s.pollAudio)
		return
	}
	s.advanceLocked()
}

func (s *Sequencer) timedAdvance(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.advanceLocked()
}

// advanceLocked ends the current line and starts the next, or begins
// the drain grace after the last one.
func (s *Sequencer) advanceLocked() {
	s.publish(domain.LineAdvance{TurnID: s.turn.ID, Index: s.index})
	s.gen++
	s.stopTimerLocked()
	s.player.Stop()

	s.index++
	if s.index >= len(s.turn.Lines) {
		gen := s.gen
		s.timer = s.clock.AfterFunc(drainGrace, func() { s.onDrained(gen) })
		return
	}
	s.startLineLocked()
}

func (s *Sequencer) onDrained(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.active {
		return
	}
	s.publish(domain.TurnDrained{TurnID: s.turn.ID})
	s.active = false
}

// scheduleLocked arms the single pending timer. f re-checks the
// captured generation under the lock before acting, so a timer that
// fires after the sequencer moved on is a no-op.
func (s *Sequencer) scheduleLocked(d time.Duration, f func(uint64)) {
	s.stopTimerLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() { f(gen) })
}

func (s *Sequencer) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
