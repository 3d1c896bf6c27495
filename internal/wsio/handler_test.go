package wsio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/call"
	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// newTestServer wires one WebSocket call end to end, the way cmd/server's
// callHandler does, and returns the "ws://" URL plus a cleanup func.
func newTestServer(t *testing.T) (wsURL string, ac *call.ActiveCall, cleanup func()) {
	t.Helper()
	log := logx.NewDevelopment()

	ctx, cancel := context.WithCancel(context.Background())
	audioCh := make(chan []byte, 16)

	deps := call.Deps{Log: log, Caller: "caller", Callee: "callee"}
	c := call.New(ctx, "test-session", call.TypeWebSocket, deps, audioCh)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h := NewHandler(conn, log, c, audioCh, 50*time.Millisecond)
		h.Run(ctx)
	}))

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, c, func() {
		cancel()
		srv.Close()
	}
}

func TestHandlerForwardsTextCommandsToCall(t *testing.T) {
	wsURL, ac, cleanup := newTestServer(t)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	cmd := event.Command{Tag: event.CmdMute, TrackID: "caller"}
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	// The command is processed on the call's own goroutine; give it a beat
	// to run, then confirm the call is still alive (no panic, no premature
	// termination) rather than asserting on internal mute state directly.
	select {
	case <-ac.Done():
		t.Fatal("call terminated unexpectedly after a mute command")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerForwardsBinaryFramesToAudioChannel(t *testing.T) {
	wsURL, _, cleanup := newTestServer(t)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	pcm := []byte{1, 2, 3, 4}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcm))

	// The frame should reach the call's Serve loop without the connection
	// erroring out; there is no direct observable side effect without a
	// track attached, so this asserts the write path itself doesn't fail.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.PingMessage, nil), "connection broke after sending a binary frame")
}

func TestHandlerSendsPeriodicPings(t *testing.T) {
	wsURL, _, cleanup := newTestServer(t)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	pingReceived := make(chan string, 1)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pingReceived <- appData:
		default:
		}
		return nil
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case payload := <-pingReceived:
		_, err := time.Parse(time.RFC3339, payload)
		require.NoError(t, err, "ping payload %q is not RFC3339", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive a ping within the configured interval")
	}
}
