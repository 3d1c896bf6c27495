package call

import (
	"sync"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// broadcastBuffer is the per-subscriber channel depth. A subscriber slower
// than this is dropped-from, not blocked against ("a slow
// subscriber cannot back-pressure the main loop").
const broadcastBuffer = 128

// broadcaster fans SessionEvents out to every subscriber (WS client, CDR
// recorder, dialogue runner) in broadcast order, per subscriber
// independently; subscribers never observe each other.
type broadcaster struct {
	mu   sync.Mutex
	log  logx.Logger
	subs map[int]chan event.SessionEvent
	next int
}

func newBroadcaster(log logx.Logger) *broadcaster {
	return &broadcaster{log: log, subs: make(map[int]chan event.SessionEvent)}
}

// subscribe returns a channel of future events and an unsubscribe func.
func (b *broadcaster) subscribe() (<-chan event.SessionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan event.SessionEvent, broadcastBuffer)
	b.subs[id] = ch
	return ch, func() { b.unsubscribe(id) }
}

func (b *broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// publish delivers ev to every current subscriber without blocking; a full
// subscriber channel is logged and the event is dropped for that subscriber
// only (lag-and-drop).
func (b *broadcaster) publish(ev event.SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.log != nil {
				b.log.Warnw("subscriber lagging, dropping event", "subscriber", id, "event", ev.Tag)
			}
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
