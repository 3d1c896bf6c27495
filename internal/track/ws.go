package track

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/restsend/active-call/internal/event"
	internalmedia "github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/logx"
)

// WSTrack is the MediaTrack variant for a WebSocket call:
// there is no SDP or RTP transport, just raw 16kHz mono signed-16 PCM
// carried as WebSocket binary frames. FeedPCM is the ingress entry point the
// call engine's WS binary-frame reader drives; Outbound is the egress
// channel the same reader's write side drains to forward audio back to the
// client.
type WSTrack struct {
	mu sync.Mutex

	id  string
	log logx.Logger

	chain  *internalmedia.Chain
	events chan event.SessionEvent

	outbound chan []byte
	closed   bool
}

// NewWSTrack builds a WebSocket-backed track. outboundBuffer bounds how many
// pending egress frames are queued; once it is full, SendFrame drops the new
// frame and logs it.
func NewWSTrack(id string, log logx.Logger, outboundBuffer int) *WSTrack {
	if outboundBuffer <= 0 {
		outboundBuffer = 64
	}
	return &WSTrack{
		id:       id,
		log:      log,
		chain:    internalmedia.NewChain(id, log),
		events:   make(chan event.SessionEvent, 64),
		outbound: make(chan []byte, outboundBuffer),
	}
}

func (t *WSTrack) ID() string { return t.id }

// Create has nothing to negotiate for a raw WS audio leg; it just announces
// the track is up.
func (t *WSTrack) Create(ctx context.Context) error {
	t.emit(event.SessionEvent{Tag: event.EvTrackStart, TrackID: t.id})
	return nil
}

// LocalDescription and UpdateRemoteDescription are no-ops: a WSTrack carries
// no SDP, only raw PCM control-channel audio.
func (t *WSTrack) LocalDescription() (string, error)                     { return "", nil }
func (t *WSTrack) UpdateRemoteDescription(ctx context.Context, s string) error { return nil }

func (t *WSTrack) AppendProcessor(p internalmedia.Processor) { t.chain.Append(p) }

func (t *WSTrack) RemoveProcessor(name string) bool { return t.chain.Remove(name) }

// FeedPCM runs one inbound frame of raw little-endian signed-16 PCM (as
// received over the WS binary channel) through the processing chain.
func (t *WSTrack) FeedPCM(ctx context.Context, raw []byte, ts int64) {
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	frame := internalmedia.NewPCMFrame(t.id, ts, internalmedia.InternalSampleRate, 1, pcm)
	t.chain.Run(ctx, &frame)
}

// SendFrame encodes an outbound PCM frame back to raw bytes and queues it for
// the WS writer; non-PCM frames (RTP passthrough, Empty) are dropped since a
// WS client only ever receives raw PCM.
func (t *WSTrack) SendFrame(ctx context.Context, frame *internalmedia.AudioFrame) error {
	if frame.Samples.Kind != internalmedia.SamplesPCM {
		return nil
	}
	raw := make([]byte, len(frame.Samples.PCM)*2)
	for i, s := range frame.Samples.PCM {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	select {
	case t.outbound <- raw:
	default:
		t.log.Warnw("ws track outbound buffer full, dropping frame", "track", t.id)
	}
	return nil
}

// Outbound returns the channel of raw PCM byte frames queued for delivery to
// the WS client as binary messages.
func (t *WSTrack) Outbound() <-chan []byte { return t.outbound }

func (t *WSTrack) Events() <-chan event.SessionEvent { return t.events }

func (t *WSTrack) emit(ev event.SessionEvent) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.log.Warnw("track event channel full, dropping event", "track", t.id, "event", ev.Tag)
	}
}

// Close is idempotent; it closes the event and outbound channels so any
// reader ranging over them exits.
func (t *WSTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.events)
	close(t.outbound)
	return nil
}
