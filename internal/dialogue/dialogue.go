// Package dialogue implements the pluggable dialogue driver: a
// Handler consumes SessionEvents and produces Commands for the call engine to
// enqueue, without ever touching media or transport directly.
package dialogue

import (
	"context"

	"github.com/restsend/active-call/internal/event"
)

// Handler drives one call's conversation. OnStart runs once the engine is
// ready to speak (post-answer); OnEvent runs once per SessionEvent the engine
// broadcasts. Both return the Commands to enqueue, in order.
//
// Implementations are not expected to be safe for concurrent use — the
// engine drives a single Handler from its own serial event loop.
type Handler interface {
	OnStart(ctx context.Context) ([]event.Command, error)
	OnEvent(ctx context.Context, ev *event.SessionEvent) ([]event.Command, error)
}
