package bus

import (
	"context"
	"log/slog"

	"hionago/internal/domain"
)

// Bus is the daemon's internal event channel. Publish never blocks: a
// full queue drops the event with a warning, because a stalled overlay
// must not stall the turn pipeline.
type Bus struct {
	ch     chan domain.Event
	logger *slog.Logger
}

func New(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{ch: make(chan domain.Event, size), logger: logger}
}

func (b *Bus) Publish(ev domain.Event) {
	select {
	case b.ch <- ev:
	default:
		b.logger.Warn("event bus full, dropping", "kind", ev.Kind())
	}
}

// Run dispatches events to handler in order on a single goroutine until
// ctx is cancelled.
func (b *Bus) Run(ctx context.Context, handler func(domain.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.ch:
			handler(ev)
		}
	}
}
