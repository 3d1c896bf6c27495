package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/cdr"
	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// recordingSender is a cdr.Sender fake that captures every Record it sees.
type recordingSender struct {
	mu      sync.Mutex
	records []*cdr.Record
}

func (s *recordingSender) Send(r *cdr.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordingSender) last() *cdr.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
}

// echoDialogue answers every event with a fixed batch of commands once, so
// tests can assert the dialogue's output reaches dispatch without needing a
// real LLM/provider round trip.
type echoDialogue struct {
	mu     sync.Mutex
	onCmds []event.Command
	fired  bool
}

func (d *echoDialogue) OnStart(ctx context.Context) ([]event.Command, error) { return nil, nil }

func (d *echoDialogue) OnEvent(ctx context.Context, ev *event.SessionEvent) ([]event.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fired || ev.Tag != event.EvDtmf {
		return nil, nil
	}
	d.fired = true
	return d.onCmds, nil
}

func waitForState(t *testing.T, ac *ActiveCall, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if ac.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state never reached %v, stuck at %v", want, ac.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewWebSocketCallStartsIdleWithOwnTrack(t *testing.T) {
	ac := New(context.Background(), "sess-1", TypeWebSocket, Deps{Log: logx.NewDevelopment()}, nil)
	require.Equal(t, StateIdle, ac.State())
	require.NotNil(t, ac.wsTrack, "expected New to provision a WSTrack for a websocket call")
	require.Equal(t, "caller", ac.serverSideTrackID)
}

func TestInviteThenHangupEmitsCDR(t *testing.T) {
	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := New(ctx, "sess-2", TypeWebSocket, Deps{
		Log:    logx.NewDevelopment(),
		CDR:    sender,
		Caller: "alice",
		Callee: "bob",
	}, nil)

	go ac.Serve()

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: &event.CallOption{}}))
	waitForState(t, ac, StateActive, time.Second)

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdHangup, Reason: "normal"}))

	select {
	case <-ac.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not terminate after hangup")
	}

	rec := sender.last()
	require.NotNil(t, rec, "expected a CDR record to be sent on hangup")
	require.Equal(t, "alice", rec.Caller)
	require.Equal(t, "bob", rec.Callee)
	require.NotNil(t, rec.HangupReason)
	require.Equal(t, "normal", rec.HangupReason.Other)
}

func TestCancelTerminatesServeLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ac := New(ctx, "sess-3", TypeWebSocket, Deps{Log: logx.NewDevelopment()}, nil)

	go ac.Serve()

	ac.Cancel()

	select {
	case <-ac.Done():
	case <-time.After(time.Second):
		t.Fatal("Cancel did not terminate the call")
	}
	cancel()
}

func TestSubscribeObservesAnswerEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := New(ctx, "sess-4", TypeWebSocket, Deps{Log: logx.NewDevelopment()}, nil)
	events, unsubscribe := ac.Subscribe()
	defer unsubscribe()

	go ac.Serve()

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: &event.CallOption{}}))

	select {
	case ev := <-events:
		require.Equal(t, event.EvAnswer, ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("never observed an Answer event")
	}
}

func TestDialogueCommandsAreDispatched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dlg := &echoDialogue{onCmds: []event.Command{{Tag: event.CmdMute, TrackID: "caller"}}}
	ac := New(ctx, "sess-5", TypeWebSocket, Deps{Log: logx.NewDevelopment(), Dialogue: dlg}, nil)

	go ac.Serve()

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: &event.CallOption{}}))
	waitForState(t, ac, StateActive, time.Second)

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdDtmf, Digit: "5"}))

	// The dialogue's reply (a Mute command) is dispatched on the call's own
	// loop and mutes the VolumeControl processor Invite wired onto the
	// caller track; give it a beat, then confirm the call is still healthy
	// (no panic, no crash).
	select {
	case <-ac.Done():
		t.Fatal("call terminated unexpectedly while handling a dialogue-issued command")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHangupIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := New(ctx, "sess-6", TypeWebSocket, Deps{Log: logx.NewDevelopment(), CDR: sender}, nil)
	go ac.Serve()

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: &event.CallOption{}}))
	waitForState(t, ac, StateActive, time.Second)

	ac.EnqueueCommand(event.Command{Tag: event.CmdHangup})
	ac.EnqueueCommand(event.Command{Tag: event.CmdHangup})

	select {
	case <-ac.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not terminate")
	}

	// Give the (already-closed) loop no further work to do, then assert
	// cleanup only ran once: exactly one CDR record was sent.
	time.Sleep(50 * time.Millisecond)
	sender.mu.Lock()
	n := len(sender.records)
	sender.mu.Unlock()
	require.Equal(t, 1, n, "expected exactly 1 CDR record from idempotent cleanup")
}
