// Package wsio implements the WebSocket control channel: one
// gorilla/websocket connection per call, carrying JSON event.Commands in and
// event.SessionEvents out, plus raw binary PCM frames in both directions for
// the WebSocket call type's inline audio path.
//
// The read and write loops run as separate goroutines over the same
// connection, with a periodic ping/pong keepalive alongside them.
package wsio

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/restsend/active-call/internal/call"
	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// Upgrader is shared across connections; CheckOrigin is permissive by
// default since authn/authz is out of scope here — a deployment wraps the
// HTTP handler with its own auth middleware before reaching here.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler drives one WebSocket call's control channel: a read loop decoding
// inbound JSON commands and binary audio, and a write loop serializing
// outbound SessionEvents and forwarding outbound audio, running until the
// connection closes or the call ends (Serve/cleanup symmetry).
type Handler struct {
	conn         *websocket.Conn
	log          logx.Logger
	call         *call.ActiveCall
	audioTx      chan<- []byte // inbound PCM, fed to the same channel call.New's audioRx reads
	pingInterval time.Duration

	writeMu sync.Mutex
}

// NewHandler wraps an already-upgraded connection for the given call.
// audioTx must be the send side of the channel handed as audioRx to
// call.New for this same call, so inbound binary frames reach its Serve loop.
// pingInterval of zero falls back to 20s (default).
func NewHandler(conn *websocket.Conn, log logx.Logger, c *call.ActiveCall, audioTx chan<- []byte, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &Handler{conn: conn, log: log, call: c, audioTx: audioTx, pingInterval: pingInterval}
}

// Run drives the connection until ctx is canceled or the call ends,
// whichever happens first. It starts the call's own Serve loop, then runs
// the read and write loops concurrently, returning once all three stop.
func (h *Handler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := h.call.Serve(); err != nil {
			h.log.Warnw("call serve loop exited with error", "call", h.call.SessionID(), "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		h.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		h.writeLoop(ctx)
	}()

	wg.Wait()
	h.conn.Close()
}

// readLoop decodes inbound frames: JSON text frames become Commands,
// binary frames are raw PCM pushed wherever the caller wired audioRx (the
// call engine's select loop in Serve consumes it directly).
func (h *Handler) readLoop(ctx context.Context) {
	defer h.call.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.call.Done():
			return
		default:
		}

		msgType, data, err := h.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warnw("websocket read error", "call", h.call.SessionID(), "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var cmd event.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				h.log.Warnw("dropping malformed command", "call", h.call.SessionID(), "error", err)
				continue
			}
			if err := h.call.EnqueueCommand(cmd); err != nil {
				return // call already terminated
			}
		case websocket.BinaryMessage:
			if h.audioTx == nil {
				continue
			}
			select {
			case h.audioTx <- data:
			case <-ctx.Done():
				return
			case <-h.call.Done():
				return
			}
		}
	}
}

// writeLoop serializes outbound SessionEvents as JSON text frames and
// outbound audio as binary frames, plus a ping frame on the configured
// interval to keep NAT/load-balancer idle timeouts from closing the
// connection (ping_interval).
func (h *Handler) writeLoop(ctx context.Context) {
	events, unsubscribe := h.call.Subscribe()
	defer unsubscribe()
	audio := h.call.OutboundAudio()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.call.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeJSON(ev); err != nil {
				h.log.Warnw("websocket write error", "call", h.call.SessionID(), "error", err)
				return
			}
		case pcm, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if err := h.writeBinary(pcm); err != nil {
				h.log.Warnw("websocket audio write error", "call", h.call.SessionID(), "error", err)
				return
			}
		case <-ticker.C:
			if err := h.writePing(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(ev event.SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) writeBinary(pcm []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// writePing sends a WebSocket ping control frame carrying an RFC 3339
// timestamp payload, doubling as a liveness probe and a clock sync
// hint for the client.
func (h *Handler) writePing() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteMessage(websocket.PingMessage, []byte(time.Now().Format(time.RFC3339)))
}
