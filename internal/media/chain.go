package media

import (
	"context"
	"reflect"
	"sync"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// EventSender is the narrow interface processors use to emit SessionEvents
// upward without depending on the call package (which depends on media).
type EventSender interface {
	Send(ev event.SessionEvent)
}

// Processor is any object that can inspect or mutate a frame in place.
// A processor must not block; I/O-bound work is handed off to a separate
// goroutine communicating back via the captured EventSender.
type Processor interface {
	// Name identifies the processor for logging and typed Remove lookups.
	Name() string
	// ProcessFrame mutates frame in place, replaces its Samples variant, or
	// returns an error. Errors are logged and do not poison the chain.
	ProcessFrame(ctx context.Context, frame *AudioFrame) error
}

// Chain is the ordered, dynamically mutable processor pipeline for one
// track. Safe for concurrent Append/Remove while a frame is mid-flight is
// not required: the owning track serializes frame delivery, but chain
// mutation may race with a Refer/transfer goroutine, so it is guarded.
type Chain struct {
	mu         sync.RWMutex
	trackID    string
	processors []Processor
	log        logx.Logger
}

// NewChain builds an empty chain for trackID.
func NewChain(trackID string, log logx.Logger) *Chain {
	return &Chain{trackID: trackID, log: log}
}

// Append adds a processor to the tail of the chain.
func (c *Chain) Append(p Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = append(c.processors, p)
}

// Remove deletes the first processor whose Name matches name, returning
// whether one was found.
func (c *Chain) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.processors {
		if p.Name() == name {
			c.processors = append(c.processors[:i], c.processors[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveType deletes the first processor assignable to the concrete type of
// sample, mirroring a typed-remove in languages with reflection-free
// generics. sample should be a nil pointer of the target type, e.g.
// (*AsrFeed)(nil).
func (c *Chain) RemoveType(sample Processor) bool {
	want := reflect.TypeOf(sample)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.processors {
		if reflect.TypeOf(p) == want {
			c.processors = append(c.processors[:i], c.processors[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether a processor with the given name is present.
func (c *Chain) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.processors {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// Run pushes frame through every processor head-to-tail. A processor that
// returns an error is logged and skipped; the chain continues so one
// misbehaving processor cannot stall the track.
func (c *Chain) Run(ctx context.Context, frame *AudioFrame) {
	c.mu.RLock()
	snapshot := make([]Processor, len(c.processors))
	copy(snapshot, c.processors)
	c.mu.RUnlock()

	for _, p := range snapshot {
		if err := p.ProcessFrame(ctx, frame); err != nil {
			if c.log != nil {
				c.log.Warnw("processor failed, skipping", "track", c.trackID, "processor", p.Name(), "error", err)
			}
		}
	}
}
