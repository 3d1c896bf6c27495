package track

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/restsend/active-call/internal/event"
	internalmedia "github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/sipsrv"
)

// SIPTrack is the plain-RTP MediaTrack variant (SRTP is not implemented). It
// owns the bound UDP socket for one call leg, negotiates codecs against remote
// SDP, decodes inbound RFC 4733 DTMF, and detects hold from SDP attributes.
// The SIP transaction/dialog/transport layer (INVITE/ACK/BYE state machine)
// is explicitly out of scope and assumed to be driven externally —
// this track only needs the RTP local port and successive remote SDP bodies
// handed to it by that layer.
type SIPTrack struct {
	mu sync.Mutex

	id  string
	log logx.Logger

	chain  *internalmedia.Chain
	events chan event.SessionEvent

	localIP   string
	rtpPort   int
	conn      *net.UDPConn
	writer    *sipsrv.RTPStreamWriter
	preferred []sipsrv.Codec

	// directRTP keeps inbound/outbound frames as raw RTP payloads instead of
	// transcoding to/from PCM — for recorder-only legs, or codecs (G722,
	// L16) this binary has no PCM transcoder for (see internal/track/g711.go).
	directRTP bool

	remote        *sipsrv.MediaInfo
	codec         *sipsrv.Codec
	onHold        bool
	lastRemoteSDP string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewSIPTrack binds a UDP socket on rtpPort and builds a track ready to
// negotiate SDP. preference is CallOption.CodecPreference, or nil for the
// default order. directRTP mirrors RecorderConfig.DirectRTP: when
// true, frames stay as raw RTP payloads end to end instead of being
// transcoded to internal-rate PCM.
func NewSIPTrack(id string, log logx.Logger, localIP string, rtpPort int, preference []sipsrv.Codec, directRTP bool) (*SIPTrack, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(localIP), Port: rtpPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("track: bind RTP socket %s:%d: %w", localIP, rtpPort, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SIPTrack{
		id:        id,
		log:       log,
		chain:     internalmedia.NewChain(id, log),
		events:    make(chan event.SessionEvent, 64),
		localIP:   localIP,
		rtpPort:   rtpPort,
		conn:      conn,
		preferred: preference,
		directRTP: directRTP,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (t *SIPTrack) ID() string { return t.id }

// Create starts the RTP read loop. SDP exchange happens via
// UpdateRemoteDescription/LocalDescription; Create only brings the transport
// up so the first remote SDP can be applied immediately.
func (t *SIPTrack) Create(ctx context.Context) error {
	t.wg.Add(1)
	go t.readLoop()
	t.emit(event.SessionEvent{Tag: event.EvTrackStart, TrackID: t.id})
	return nil
}

// LocalDescription renders the SDP offer/answer for the negotiated (or
// default, if not yet negotiated) codec.
func (t *SIPTrack) LocalDescription() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.codec != nil {
		return sipsrv.GenerateSDP(sipsrv.NegotiatedSDPConfig(t.localIP, t.rtpPort, t.codec)), nil
	}
	return sipsrv.GenerateSDP(sipsrv.DefaultSDPConfig(t.localIP, t.rtpPort, t.preferred)), nil
}

// UpdateRemoteDescription applies a new remote SDP body — covers the initial
// offer, 183-then-200 early-media/final-answer sequencing, re-INVITE
// hold/resume, and mid-call renegotiation. A byte-exact repeat (after
// trimming CRLF/LF variance) is a no-op.
func (t *SIPTrack) UpdateRemoteDescription(ctx context.Context, remote string) error {
	t.mu.Lock()
	prevRaw := t.lastRemoteSDP
	t.mu.Unlock()

	if prevRaw != "" && sipsrv.SameSDP([]byte(prevRaw), []byte(remote)) {
		return nil
	}

	info, err := sipsrv.ParseSDP([]byte(remote))
	if err != nil {
		return fmt.Errorf("track: parse remote SDP: %w", err)
	}
	codec := sipsrv.NegotiateCodec(t.preferred, info.PayloadTypes)

	wasHold := t.onHold
	isHold := info.IsHold()

	t.mu.Lock()
	t.remote = info
	t.codec = codec
	t.onHold = isHold
	t.lastRemoteSDP = remote
	remoteAddr := &net.UDPAddr{IP: net.ParseIP(info.ConnectionIP), Port: info.AudioPort}
	if t.writer != nil {
		t.writer.Close()
	}
	t.writer = sipsrv.NewRTPStreamWriter(t.conn, remoteAddr, *codec)
	t.mu.Unlock()

	if isHold != wasHold {
		t.emit(event.SessionEvent{Tag: event.EvHold, OnHold: isHold, TrackID: t.id})
	}
	return nil
}

func (t *SIPTrack) AppendProcessor(p internalmedia.Processor) { t.chain.Append(p) }

func (t *SIPTrack) RemoveProcessor(name string) bool { return t.chain.Remove(name) }

// SendFrame writes an outbound frame as RTP. While the remote has the call on
// hold it sends nothing and returns nil.
func (t *SIPTrack) SendFrame(ctx context.Context, frame *internalmedia.AudioFrame) error {
	t.mu.Lock()
	writer, onHold := t.writer, t.onHold
	t.mu.Unlock()
	if writer == nil {
		return fmt.Errorf("track: no negotiated remote SDP yet")
	}
	if onHold {
		return nil
	}

	t.mu.Lock()
	codec := t.codec
	t.mu.Unlock()
	if codec == nil {
		return fmt.Errorf("track: no negotiated codec yet")
	}

	switch frame.Samples.Kind {
	case internalmedia.SamplesRTP:
		return writer.Write(frame.Samples.Payload)
	case internalmedia.SamplesPCM:
		rate := frame.SampleRate
		if rate <= 0 {
			rate = internalmedia.InternalSampleRate
		}
		payload, err := encodeToRTP(frame.Samples.PCM, rate, *codec)
		if err != nil {
			return err
		}
		return writer.Write(payload)
	default:
		return nil
	}
}

func (t *SIPTrack) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		t.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if n < 12 {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		pt := payload[1] & 0x7F

		if pt == sipsrv.DTMFPayloadType {
			if ev, err := sipsrv.DecodeDTMFEvent(payload[12:]); err == nil && ev.EndOfEvent {
				if r, ok := sipsrv.EventToRune(ev.Event); ok {
					t.emit(event.SessionEvent{Tag: event.EvDtmf, Digit: string(r), TrackID: t.id})
				}
			}
			continue
		}

		t.mu.Lock()
		codec, directRTP := t.codec, t.directRTP
		t.mu.Unlock()

		frame := &internalmedia.AudioFrame{
			TrackID:    t.id,
			Timestamp:  time.Now().UnixMilli(),
			SampleRate: internalmedia.InternalSampleRate,
			Channels:   1,
		}
		if !directRTP && codec != nil {
			if pcm, err := decodeFromRTP(payload[12:], *codec, internalmedia.InternalSampleRate); err == nil {
				frame.Samples = internalmedia.PCMSamples(pcm)
			} else {
				frame.SampleRate = 8000
				frame.Samples = internalmedia.RTPSamples(0, pt, payload[12:])
			}
		} else {
			frame.SampleRate = 8000
			frame.Samples = internalmedia.RTPSamples(0, pt, payload[12:])
		}
		t.chain.Run(t.ctx, frame)
	}
}

func (t *SIPTrack) Events() <-chan event.SessionEvent { return t.events }

func (t *SIPTrack) emit(ev event.SessionEvent) {
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

// Close tears down the RTP socket. Idempotent.
func (t *SIPTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	writer := t.writer
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	close(t.events)
	if writer != nil {
		writer.Close()
	}
	return t.conn.Close()
}
