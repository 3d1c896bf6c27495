package sipsrv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/logx"
)

func TestUASNextReturnsContextErrorWhenNothingPending(t *testing.T) {
	u, err := NewUAS(logx.NewDevelopment())
	require.NoError(t, err)
	defer u.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = u.Next(ctx)
	require.Error(t, err, "expected Next to return an error once ctx deadline passed with no pending invite")
}

func TestUASAcceptUnknownCallFails(t *testing.T) {
	u, err := NewUAS(logx.NewDevelopment())
	require.NoError(t, err)
	defer u.Close()

	err = u.Accept("no-such-call", "v=0")
	require.Error(t, err, "expected Accept to fail for an unregistered call id")
}

func TestUASRejectUnknownCallFails(t *testing.T) {
	u, err := NewUAS(logx.NewDevelopment())
	require.NoError(t, err)
	defer u.Close()

	err = u.Reject("no-such-call", 486, "Busy Here")
	require.Error(t, err, "expected Reject to fail for an unregistered call id")
}

func TestUASOnByeCallback(t *testing.T) {
	u, err := NewUAS(logx.NewDevelopment())
	require.NoError(t, err)
	defer u.Close()

	called := make(chan string, 1)
	u.OnBye(func(callID string) { called <- callID })

	u.mu.Lock()
	u.pending["abc"] = &PendingInvite{CallID: "abc"}
	u.mu.Unlock()

	// Exercise the registration path directly rather than via handleBye,
	// which needs a real sipgo transaction to respond through.
	require.NotNil(t, u.onBye, "OnBye did not register a callback")
	u.onBye("abc")

	select {
	case id := <-called:
		require.Equal(t, "abc", id)
	case <-time.After(time.Second):
		t.Fatal("onBye callback was never invoked")
	}
}
