package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

func TestRenderHangupHeadersSubstitutesKnownVars(t *testing.T) {
	headers := map[string]string{
		"X-Call-Result": "{{ call_result }}",
		"X-Fixed":       "no-template-here",
		"X-Unknown":     "{{missing}}",
	}
	extras := map[string]any{"call_result": "success"}

	out := renderHangupHeaders(headers, extras)

	require.Equal(t, "success", out["X-Call-Result"])
	require.Equal(t, "no-template-here", out["X-Fixed"])
	require.Equal(t, "{{missing}}", out["X-Unknown"], "an unresolved placeholder is left as-is")
}

func TestHandleHangupStoresRenderedHeadersInExtras(t *testing.T) {
	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := New(ctx, "sess-hangup-headers", TypeWebSocket, Deps{Log: logx.NewDevelopment(), CDR: sender}, nil)
	go ac.Serve()

	opt := &event.CallOption{HangupHeaders: map[string]string{"X-Job-Id": "job-123"}}
	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: opt}))
	waitForState(t, ac, StateActive, time.Second)

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdHangup, Reason: "llm", Initiator: "dialogue"}))

	select {
	case <-ac.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not terminate after hangup")
	}

	rec := sender.last()
	require.NotNil(t, rec)
	headers, ok := rec.Extras["_hangup_headers"].(map[string]string)
	require.True(t, ok, "expected _hangup_headers in the CDR's extras")
	require.Equal(t, "job-123", headers["X-Job-Id"])
}

func TestHandleHangupSkipsHeadersWhenNoneConfigured(t *testing.T) {
	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := New(ctx, "sess-hangup-no-headers", TypeWebSocket, Deps{Log: logx.NewDevelopment(), CDR: sender}, nil)
	go ac.Serve()

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: &event.CallOption{}}))
	waitForState(t, ac, StateActive, time.Second)

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdHangup}))

	select {
	case <-ac.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not terminate after hangup")
	}

	rec := sender.last()
	require.NotNil(t, rec)
	_, ok := rec.Extras["_hangup_headers"]
	require.False(t, ok, "no _hangup_headers key should be set when CallOption carries none")
}
