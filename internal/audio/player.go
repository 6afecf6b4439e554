package audio

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// Player is the voice output device. The sequencer polls Busy to decide
// when a spoken line has finished.
type Player interface {
	Play(path string) error
	Busy() bool
	Stop()
}

// OtoPlayer plays MP3 files through the OS audio device. The oto
// context is created lazily from the first decoded stream's sample rate
// and reused for the life of the process; the synthesizer emits a
// uniform rate so this holds.
type OtoPlayer struct {
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *oto.Context
	rate    int
	current *oto.Player
	file    *os.File
}

func NewOtoPlayer(logger *slog.Logger) *OtoPlayer {
	return &OtoPlayer{logger: logger}
}

// Play stops whatever is playing and starts the given file.
func (p *OtoPlayer) Play(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if p.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   dec.SampleRate(),
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			f.Close()
			return fmt.Errorf("audio context: %w", err)
		}
		<-ready
		p.ctx = ctx
		p.rate = dec.SampleRate()
	} else if dec.SampleRate() != p.rate {
		p.logger.Warn("sample rate differs from audio context", "path", path, "rate", dec.SampleRate(), "context", p.rate)
	}

	p.current = p.ctx.NewPlayer(dec)
	p.file = f
	p.current.Play()
	return nil
}

func (p *OtoPlayer) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && p.current.IsPlaying()
}

func (p *OtoPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *OtoPlayer) stopLocked() {
	if p.current != nil {
		if err := p.current.Close(); err != nil {
			p.logger.Warn("close audio player", "error", err)
		}
		p.current = nil
	}
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
}

// NullPlayer discards all audio. Used in tests and when the daemon runs
// headless without an output device.
type NullPlayer struct{}

func (NullPlayer) Play(string) error { return nil }
func (NullPlayer) Busy() bool        { return false }
func (NullPlayer) Stop()             {}
