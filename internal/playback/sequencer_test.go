package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"hionago/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// waitTimer blocks until a live timer is armed; asynchronous paths arm
// timers from goroutines.
func (c *fakeClock) waitTimer(t *testing.T) *fakeTimer {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for i := len(c.timers) - 1; i >= 0; i-- {
			if !c.timers[i].stopped && !c.timers[i].fired {
				ft := c.timers[i]
				c.mu.Unlock()
				return ft
			}
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no timer armed")
	return nil
}

func (c *fakeClock) fire(ft *fakeTimer) {
	c.mu.Lock()
	ft.fired = true
	c.mu.Unlock()
	ft.f()
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) wait(t *testing.T, n int) []domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]domain.Event(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("got %d events, want at least %d: %v", len(r.events), n, r.events)
	return nil
}

type stubSynth struct {
	mu    sync.Mutex
	path  string
	err   error
	block chan struct{}
	calls []string
}

func (s *stubSynth) Synthesize(_ context.Context, _ domain.CharacterID, _ string, text string) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	return s.path, s.err
}

type stubPlayer struct {
	mu        sync.Mutex
	busyPolls int
	played    []string
	playErr   error
}

func (p *stubPlayer) Play(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.played = append(p.played, path)
	return nil
}

func (p *stubPlayer) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyPolls > 0 {
		p.busyPolls--
		return true
	}
	return false
}

func (p *stubPlayer) Stop() {}

func testTurn(id uint64, texts ...string) domain.Turn {
	turn := domain.Turn{ID: id}
	for _, txt := range texts {
		turn.Lines = append(turn.Lines, domain.DialogueLine{
			Speaker:     domain.CharHiori,
			RawEmotion:  "normal",
			SpeechText:  txt,
			DisplayText: txt,
		})
	}
	return turn
}

func rosterFunc() domain.Roster {
	return domain.Roster{
		Characters: []domain.Character{
			{ID: domain.CharHiori, Name: "日织", Color: "#1B2647"},
			{ID: domain.CharNagomu, Name: "阿和", Color: "#5D4037"},
		},
		Default: domain.CharHiori,
	}
}

func newTestSequencer(synth Synth, player *stubPlayer, voice func() bool) (*Sequencer, *recorder, *fakeClock) {
	rec := &recorder{}
	clock := &fakeClock{}
	seq := NewSequencer(synth, player, rec.publish, voice, rosterFunc, discardLogger())
	seq.clock = clock
	return seq, rec, clock
}

func TestSilentModePacing(t *testing.T) {
	seq, rec, clock := newTestSequencer(&stubSynth{}, &stubPlayer{}, func() bool { return false })

	seq.Start(testTurn(1, "一二三", "四"))

	evs := rec.wait(t, 1)
	started, ok := evs[0].(domain.LineStarted)
	if !ok || started.Index != 0 {
		t.Fatalf("first event = %#v", evs[0])
	}
	if started.Color != "#1B2647" || started.Name != "日织" {
		t.Fatalf("presentation = %q %q", started.Color, started.Name)
	}

	ft := clock.waitTimer(t)
	if want := silentBaseDelay + 3*silentPerRune; ft.d != want {
		t.Fatalf("silent delay = %v, want %v", ft.d, want)
	}
	clock.fire(ft)

	evs = rec.wait(t, 3)
	if _, ok := evs[1].(domain.LineAdvance); !ok {
		t.Fatalf("events[1] = %#v", evs[1])
	}
	if st, ok := evs[2].(domain.LineStarted); !ok || st.Index != 1 {
		t.Fatalf("events[2] = %#v", evs[2])
	}

	// Second line, then the drain grace.
	clock.fire(clock.waitTimer(t))
	ft = clock.waitTimer(t)
	if ft.d != drainGrace {
		t.Fatalf("drain delay = %v", ft.d)
	}
	clock.fire(ft)

	evs = rec.wait(t, 5)
	if _, ok := evs[len(evs)-1].(domain.TurnDrained); !ok {
		t.Fatalf("last event = %#v", evs[len(evs)-1])
	}
	if seq.Active() {
		t.Fatal("sequencer still active after drain")
	}
}

func TestVoicePlaybackPollsUntilIdle(t *testing.T) {
	synth := &stubSynth{path: "/tmp/x.mp3"}
	player := &stubPlayer{busyPolls: 2}
	seq, rec, clock := newTestSequencer(synth, player, func() bool { return true })

	seq.Start(testTurn(2, "おはよう"))
	rec.wait(t, 1)

	// Two polls return busy, the third advances.
	for i := 0; i < 3; i++ {
		ft := clock.waitTimer(t)
		if ft.d != audioPollInterval {
			t.Fatalf("poll %d delay = %v", i, ft.d)
		}
		clock.fire(ft)
	}

	evs := rec.wait(t, 2)
	if _, ok := evs[1].(domain.LineAdvance); !ok {
		t.Fatalf("events[1] = %#v", evs[1])
	}
	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.played) != 1 || player.played[0] != "/tmp/x.mp3" {
		t.Fatalf("played = %v", player.played)
	}
}

func TestSynthesisFailureFallsBackToTimer(t *testing.T) {
	synth := &stubSynth{err: fmt.Errorf("backend down")}
	seq, rec, clock := newTestSequencer(synth, &stubPlayer{}, func() bool { return true })

	seq.Start(testTurn(3, "x"))

	evs := rec.wait(t, 2)
	failed, ok := evs[1].(domain.SynthesisFailed)
	if !ok || failed.Error != "backend down" {
		t.Fatalf("events[1] = %#v", evs[1])
	}

	ft := clock.waitTimer(t)
	if ft.d != synthFailDelay {
		t.Fatalf("fallback delay = %v", ft.d)
	}
	clock.fire(ft)
	evs = rec.wait(t, 3)
	if _, ok := evs[2].(domain.LineAdvance); !ok {
		t.Fatalf("events[2] = %#v", evs[2])
	}
}

func TestStaleSynthesisDiscardedAfterRestart(t *testing.T) {
	block := make(chan struct{})
	synth := &stubSynth{path: "/tmp/stale.mp3", block: block}
	player := &stubPlayer{}
	seq, rec, clock := newTestSequencer(synth, player, func() bool { return true })

	seq.Start(testTurn(4, "古い"))
	rec.wait(t, 1)

	// Preempt with a silent-mode turn before synthesis completes.
	seq.voiceEnabled = func() bool { return false }
	seq.Start(testTurn(5, "新しい"))
	close(block)

	// The armed timer belongs to the new turn's silent pacing, and the
	// stale synthesis result never reaches the player.
	ft := clock.waitTimer(t)
	if ft.d == audioPollInterval {
		t.Fatalf("stale synthesis scheduled an audio poll")
	}
	time.Sleep(20 * time.Millisecond)
	player.mu.Lock()
	played := len(player.played)
	player.mu.Unlock()
	if played != 0 {
		t.Fatalf("stale audio played %d times", played)
	}
}

func TestStopCancelsPendingLines(t *testing.T) {
	seq, rec, clock := newTestSequencer(&stubSynth{}, &stubPlayer{}, func() bool { return false })

	seq.Start(testTurn(9, "一二三", "四"))
	rec.wait(t, 1)
	ft := clock.waitTimer(t)

	seq.Stop()
	if seq.Active() {
		t.Fatal("still active after stop")
	}

	// The pacing timer armed for the first line is stale now; even if it
	// fires, the second line must never start.
	clock.fire(ft)
	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("events after stop = %v", rec.events)
	}
}

func TestManualAdvanceSkipsLine(t *testing.T) {
	seq, rec, _ := newTestSequencer(&stubSynth{}, &stubPlayer{}, func() bool { return false })

	seq.Start(testTurn(6, "一", "二"))
	rec.wait(t, 1)

	seq.Advance()
	evs := rec.wait(t, 3)
	if _, ok := evs[1].(domain.LineAdvance); !ok {
		t.Fatalf("events[1] = %#v", evs[1])
	}
	if st, ok := evs[2].(domain.LineStarted); !ok || st.Index != 1 {
		t.Fatalf("events[2] = %#v", evs[2])
	}

	// Advance past the last line, then dismiss during the drain grace.
	seq.Advance()
	seq.Advance()
	evs = rec.wait(t, 5)
	if _, ok := evs[len(evs)-1].(domain.TurnDrained); !ok {
		t.Fatalf("last event = %#v", evs[len(evs)-1])
	}
	if seq.Active() {
		t.Fatal("still active after dismiss")
	}
}

func TestVoiceToggleReadPerLine(t *testing.T) {
	var mu sync.Mutex
	enabled := false
	synth := &stubSynth{path: ""}
	seq, rec, clock := newTestSequencer(synth, &stubPlayer{}, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return enabled
	})

	seq.Start(testTurn(7, "一", "二"))
	rec.wait(t, 1)

	// Enable voice between lines: the second line must hit the
	// synthesizer.
	mu.Lock()
	enabled = true
	mu.Unlock()
	clock.fire(clock.waitTimer(t))

	rec.wait(t, 3)
	deadline := time.Now().Add(2 * time.Second)
	for {
		synth.mu.Lock()
		calls := len(synth.calls)
		synth.mu.Unlock()
		if calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("synth calls = %d, want 1", calls)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEmptyTurnIsIgnored(t *testing.T) {
	seq, rec, _ := newTestSequencer(&stubSynth{}, &stubPlayer{}, func() bool { return false })
	seq.Start(domain.Turn{ID: 8})
	if seq.Active() {
		t.Fatal("empty turn must not activate")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Fatalf("events = %v", rec.events)
	}
}
