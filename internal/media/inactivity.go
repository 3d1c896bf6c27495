package media

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/restsend/active-call/internal/event"
)

// Inactivity is the built-in inactivity watchdog. It records the
// timestamp of the last frame it saw and, on a 1-second background tick,
// emits an Inactivity event and stops if the gap exceeds timeout, using an
// atomic last-received timestamp and a single ticking goroutine per track.
type Inactivity struct {
	trackID string
	timeout time.Duration
	sender  EventSender

	lastReceived atomic.Int64
}

// NewInactivity starts the watchdog goroutine immediately, as the Rust
// constructor does; ctx cancellation stops the goroutine.
func NewInactivity(ctx context.Context, trackID string, timeout time.Duration, sender EventSender) *Inactivity {
	w := &Inactivity{trackID: trackID, timeout: timeout, sender: sender}
	w.lastReceived.Store(nowMillis())
	go w.run(ctx)
	return w
}

func nowMillis() int64 { return event.Now().UnixMilli() }

func (w *Inactivity) Name() string { return "inactivity:" + w.trackID }

func (w *Inactivity) run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := w.lastReceived.Load()
			now := nowMillis()
			if now > last && now-last > w.timeout.Milliseconds() {
				if w.sender != nil {
					w.sender.Send(event.SessionEvent{Tag: event.EvInactivity, TrackID: w.trackID})
				}
				return
			}
		}
	}
}

func (w *Inactivity) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	w.lastReceived.Store(nowMillis())
	return nil
}
