package track

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/restsend/active-call/internal/event"
	internalmedia "github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/logx"
)

// WebRTCTrack is the DTLS/SRTP MediaTrack variant. It negotiates
// Opus, transcoding to/from the engine's internal mono PCM at
// internalmedia.InternalSampleRate, and runs frames through a media.Chain —
// adapted from api/assistant-api/internal/channel/webrtc's webrtcStreamer,
// generalized from gRPC signaling to the Command/SessionEvent contract and
// from a protobuf streamer to the MediaTrack interface.
type WebRTCTrack struct {
	mu sync.Mutex

	id  string
	log logx.Logger

	chain  *internalmedia.Chain
	events chan event.SessionEvent

	pc         *pionwebrtc.PeerConnection
	localTrack *pionwebrtc.TrackLocalStaticSample
	opus       *opusCodec

	role      string // "answerer" (inbound offer) or "offerer"
	offerSDP  string
	iceServer []pionwebrtc.ICEServer

	ctx    context.Context
	cancel context.CancelFunc

	audioWg sync.WaitGroup
	closed  bool
}

// NewWebRTCTrack builds a track that will answer offerSDP once Create runs.
// iceServers come from the call's CallOption.ICEServers.
func NewWebRTCTrack(id string, log logx.Logger, offerSDP string, iceServers []event.ICEServer) *WebRTCTrack {
	ctx, cancel := context.WithCancel(context.Background())
	ice := make([]pionwebrtc.ICEServer, 0, len(iceServers))
	for _, s := range iceServers {
		ice = append(ice, pionwebrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	if len(ice) == 0 {
		ice = []pionwebrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &WebRTCTrack{
		id:        id,
		log:       log,
		chain:     internalmedia.NewChain(id, log),
		events:    make(chan event.SessionEvent, 64),
		role:      "answerer",
		offerSDP:  offerSDP,
		iceServer: ice,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (t *WebRTCTrack) ID() string { return t.id }

// Create negotiates the peer connection: registers Opus, applies the remote
// offer, generates a local answer, and waits for ICE gathering to complete so
// LocalDescription returns a complete (non-trickle) SDP.
func (t *WebRTCTrack) Create(ctx context.Context) error {
	opusC, err := newOpusCodec()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.opus = opusC
	t.mu.Unlock()

	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:    pionwebrtc.MimeTypeOpus,
			ClockRate:   opusSampleRate,
			Channels:    opusChannels,
			SDPFmtpLine: opusSDPFmtpLine,
		},
		PayloadType: opusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("track: register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("track: register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine), pionwebrtc.WithInterceptorRegistry(registry))
	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{ICEServers: t.iceServer})
	if err != nil {
		return fmt.Errorf("track: create peer connection: %w", err)
	}

	localTrack, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: opusChannels},
		"audio", "active-call",
	)
	if err != nil {
		return fmt.Errorf("track: create local track: %w", err)
	}
	if _, err := pc.AddTrack(localTrack); err != nil {
		return fmt.Errorf("track: add local track: %w", err)
	}

	t.mu.Lock()
	t.pc = pc
	t.localTrack = localTrack
	t.mu.Unlock()

	t.setupHandlers(pc)

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: t.offerSDP}); err != nil {
		return fmt.Errorf("track: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("track: create answer: %w", err)
	}
	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("track: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.emit(event.SessionEvent{Tag: event.EvAnswer, SDP: pc.LocalDescription().SDP, TrackID: t.id})
	t.emit(event.SessionEvent{Tag: event.EvTrackStart, TrackID: t.id})
	return nil
}

func (t *WebRTCTrack) setupHandlers(pc *pionwebrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		switch state {
		case pionwebrtc.PeerConnectionStateFailed, pionwebrtc.PeerConnectionStateClosed:
			t.emit(event.SessionEvent{Tag: event.EvTrackEnd, TrackID: t.id})
		}
	})
	pc.OnTrack(func(remote *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if remote.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		t.audioWg.Add(1)
		go t.readRemote(remote)
	})
}

func (t *WebRTCTrack) readRemote(remote *pionwebrtc.TrackRemote) {
	defer t.audioWg.Done()

	buf := make([]byte, 1500)
	consecutiveErrors := 0
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= 50 {
				t.log.Warnw("too many consecutive RTP read errors, stopping reader", "track", t.id)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil || len(pkt.Payload) == 0 {
			continue
		}

		t.mu.Lock()
		opusC := t.opus
		t.mu.Unlock()
		stereo, err := opusC.decode(pkt.Payload)
		if err != nil {
			continue
		}
		mono := downmix(stereo)
		internal := internalmedia.Resample(mono, opusSampleRate, internalmedia.InternalSampleRate)

		frame := &internalmedia.AudioFrame{
			TrackID:    t.id,
			Timestamp:  time.Now().UnixMilli(),
			SampleRate: internalmedia.InternalSampleRate,
			Channels:   1,
			Samples:    internalmedia.PCMSamples(internal),
		}
		t.chain.Run(t.ctx, frame)
	}
}

// LocalDescription returns the negotiated answer SDP.
func (t *WebRTCTrack) LocalDescription() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc == nil || t.pc.LocalDescription() == nil {
		return "", fmt.Errorf("track: local description not ready")
	}
	return t.pc.LocalDescription().SDP, nil
}

// UpdateRemoteDescription applies a renegotiation offer and answers it.
func (t *WebRTCTrack) UpdateRemoteDescription(ctx context.Context, remote string) error {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("track: peer connection not created")
	}
	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: remote}); err != nil {
		return fmt.Errorf("track: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("track: re-answer: %w", err)
	}
	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("track: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.emit(event.SessionEvent{Tag: event.EvAnswer, SDP: pc.LocalDescription().SDP, TrackID: t.id})
	return nil
}

func (t *WebRTCTrack) AppendProcessor(p internalmedia.Processor) { t.chain.Append(p) }

func (t *WebRTCTrack) RemoveProcessor(name string) bool { return t.chain.Remove(name) }

// SendFrame resamples internal PCM to 48kHz stereo, encodes to Opus, and
// writes it as an RTP sample via the local track.
func (t *WebRTCTrack) SendFrame(ctx context.Context, frame *internalmedia.AudioFrame) error {
	if frame.Samples.Kind != internalmedia.SamplesPCM {
		return nil
	}
	t.mu.Lock()
	localTrack, opusC := t.localTrack, t.opus
	t.mu.Unlock()
	if localTrack == nil || opusC == nil {
		return fmt.Errorf("track: not created yet")
	}

	rate := frame.SampleRate
	if rate <= 0 {
		rate = internalmedia.InternalSampleRate
	}
	upsampled := internalmedia.Resample(frame.Samples.PCM, rate, opusSampleRate)
	stereo := upmix(upsampled)

	for len(stereo) >= opusSamplesPerCh*opusChannels {
		chunk := stereo[:opusSamplesPerCh*opusChannels]
		stereo = stereo[opusSamplesPerCh*opusChannels:]
		payload, err := opusC.encode(chunk)
		if err != nil {
			return err
		}
		if err := localTrack.WriteSample(media.Sample{Data: payload, Duration: opusFrameDuration * time.Millisecond}); err != nil {
			return fmt.Errorf("track: write sample: %w", err)
		}
	}
	return nil
}

func (t *WebRTCTrack) Events() <-chan event.SessionEvent { return t.events }

func (t *WebRTCTrack) emit(ev event.SessionEvent) {
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

// Close tears down the peer connection. Idempotent.
func (t *WebRTCTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pc := t.pc
	t.mu.Unlock()

	t.cancel()
	t.audioWg.Wait()
	close(t.events)
	if pc != nil {
		return pc.Close()
	}
	return nil
}
