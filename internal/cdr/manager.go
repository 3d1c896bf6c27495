package cdr

import (
	"context"
	"sync"
	"time"

	"github.com/restsend/active-call/internal/logx"
)

// Backend persists one finished Record to its destination (local disk,
// object store, or HTTP webhook). Implementations live in internal/cdr/store.
type Backend interface {
	Save(ctx context.Context, r *Record) error
}

// Manager is the CDR persistence pipeline: every ActiveCall
// hands its finished Record to Manager.Send, which queues it on a channel
// buffered to 1024 records and drains it with up to MaxConcurrent backend
// writes in flight, using a context and a bounded worker-count loop. The
// queue is not unbounded: a record sent while 1024 are already waiting is
// dropped with a warning.
type Manager struct {
	backend       Backend
	log           logx.Logger
	maxConcurrent int

	records chan *Record
	done    chan struct{}
}

// NewManager builds a Manager. maxConcurrent defaults to 64 (default).
func NewManager(backend Backend, log logx.Logger, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &Manager{
		backend:       backend,
		log:           log,
		maxConcurrent: maxConcurrent,
		records:       make(chan *Record, 1024),
		done:          make(chan struct{}),
	}
}

// Send implements the Sender contract ActiveCall uses; it never blocks the
// caller: when the queue has no room the record is dropped and logged.
func (m *Manager) Send(r *Record) {
	select {
	case m.records <- r:
	default:
		m.log.Warnw("cdr queue full, record dropped", "call", r.CallID)
	}
}

// Serve drains the queue until ctx is canceled, running up to maxConcurrent
// backend saves concurrently.
func (m *Manager) Serve(ctx context.Context) {
	defer close(m.done)
	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case r, ok := <-m.records:
			if !ok {
				wg.Wait()
				return
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(rec *Record) {
				defer wg.Done()
				defer func() { <-sem }()
				m.save(ctx, rec)
			}(r)
		}
	}
}

func (m *Manager) save(ctx context.Context, r *Record) {
	start := time.Now()
	if err := m.backend.Save(ctx, r); err != nil {
		m.log.Warnw("failed to save call record", "call", r.CallID, "error", err)
		return
	}
	m.log.Infow("call record saved", "call", r.CallID, "elapsed", time.Since(start))
}

// Done is closed once Serve returns.
func (m *Manager) Done() <-chan struct{} { return m.done }
