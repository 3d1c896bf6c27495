package cdr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/restsend/active-call/internal/logx"
)

// recordingBackend captures every Record it's asked to save, optionally
// blocking until released so tests can assert on the worker pool's
// concurrency cap.
type recordingBackend struct {
	mu      sync.Mutex
	saved   []*Record
	release chan struct{}
}

func (b *recordingBackend) Save(ctx context.Context, r *Record) error {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	b.saved = append(b.saved, r)
	b.mu.Unlock()
	return nil
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.saved)
}

func TestManagerSavesEveryRecord(t *testing.T) {
	backend := &recordingBackend{}
	m := NewManager(backend, logx.NewDevelopment(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Serve(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		m.Send(&Record{CallID: "call"})
	}

	deadline := time.After(time.Second)
	for backend.count() < 10 {
		select {
		case <-deadline:
			t.Fatalf("expected 10 records saved, got %d", backend.count())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
	<-m.Done()
}

func TestManagerSendNeverBlocksCaller(t *testing.T) {
	// A backend that never returns simulates every worker being permanently
	// busy; Send must still return immediately (dropping instead of
	// blocking) once the queue fills, per its Sender contract.
	backend := &recordingBackend{release: make(chan struct{})}
	defer close(backend.release)
	m := NewManager(backend, logx.NewDevelopment(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Serve(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			m.Send(&Record{CallID: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked instead of dropping once the queue filled")
	}
}

func TestManagerDoneClosesAfterServeReturns(t *testing.T) {
	backend := &recordingBackend{}
	m := NewManager(backend, logx.NewDevelopment(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Serve(ctx)
	cancel()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was never closed after ctx cancellation")
	}
}
