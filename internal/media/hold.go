package media

import (
	"context"
	"sync/atomic"
)

// Hold is the built-in Hold processor: while active, zeroes PCM
// sample payloads in place, preserving length, and leaves RTP/Empty frames
// untouched. It must never replace a frame with Empty — the ASR feed and
// inactivity watchdog downstream require a continuous frame cadence.
type Hold struct {
	trackID string
	active  atomic.Bool
}

// NewHold builds a Hold processor for one track, initially inactive.
func NewHold(trackID string) *Hold { return &Hold{trackID: trackID} }

func (h *Hold) Name() string { return "hold:" + h.trackID }

// SetActive toggles hold state; callers emit the hold/unhold SessionEvent
// themselves (the processor only mutates audio). Safe to call from a
// goroutine other than the one driving ProcessFrame.
func (h *Hold) SetActive(active bool) { h.active.Store(active) }

// Active reports the current hold state.
func (h *Hold) Active() bool { return h.active.Load() }

func (h *Hold) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if !h.active.Load() {
		return nil
	}
	if frame.Samples.Kind == SamplesPCM {
		for i := range frame.Samples.PCM {
			frame.Samples.PCM[i] = 0
		}
	}
	return nil
}
