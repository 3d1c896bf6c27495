package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/restsend/active-call/internal/logx"
)

// RecorderConfig selects how a track's audio is captured.
type RecorderConfig struct {
	Enabled bool
	// DirectRTP, when true, appends raw RTP payload bytes verbatim for one
	// of the direct-recording payload types (0, 8, 9, 11) instead of
	// decoding to canonical PCM. The first RTP payload type observed pins
	// the codec for the rest of the recording.
	DirectRTP bool
}

// chunk places a recorded fragment at a byte offset on the track's timeline.
type chunk struct {
	offset int
	data   []byte
}

// Recorder is the built-in Recorder processor. It accumulates frames in
// memory and renders a WAV file on Finalize, one Recorder instance per
// track — the CallRecord holds one entry per track_id.
type Recorder struct {
	trackID string
	cfg     RecorderConfig
	log     logx.Logger

	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []chunk
	cursor    int
	clock     func() time.Time

	directPayloadType uint8
	directPinned      bool
	sampleRate        int
	channels          int
}

// NewRecorder builds a Recorder for one track.
func NewRecorder(trackID string, cfg RecorderConfig, log logx.Logger) *Recorder {
	return &Recorder{
		trackID:    trackID,
		cfg:        cfg,
		log:        log,
		clock:      time.Now,
		sampleRate: 16000,
		channels:   1,
	}
}

func (r *Recorder) Name() string { return "recorder:" + r.trackID }

// Start begins the recording timeline.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

func (r *Recorder) bytesPerSecond() int {
	return r.sampleRate * r.channels * wavBytesPerSample
}

func (r *Recorder) durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(r.bytesPerSecond()))
	frame := wavBytesPerSample * r.channels
	if frame == 0 {
		return raw
	}
	return (raw / frame) * frame
}

// ProcessFrame appends the frame's payload to the timeline at the current
// wall-clock offset, not replacing or mutating the frame itself.
func (r *Recorder) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if !r.cfg.Enabled {
		return nil
	}

	var data []byte
	switch frame.Samples.Kind {
	case SamplesPCM:
		if r.cfg.DirectRTP {
			return nil // direct-RTP recorder ignores decoded PCM frames
		}
		data = int16ToBytes(frame.Samples.PCM)
		r.sampleRate = frame.SampleRate
		r.channels = frame.Channels
	case SamplesRTP:
		if !r.cfg.DirectRTP {
			return nil
		}
		if !r.directPinned {
			r.directPinned = true
			r.directPayloadType = frame.Samples.PayloadType
			if rate, ok := NominalRate(r.directPayloadType); ok {
				r.sampleRate = rate
			}
		}
		if frame.Samples.PayloadType != r.directPayloadType {
			return fmt.Errorf("recorder: payload type changed mid-call (%d -> %d)", r.directPayloadType, frame.Samples.PayloadType)
		}
		data = frame.Samples.Payload
	case SamplesEmpty:
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wallOffset := 0
	if r.started {
		wallOffset = r.durationBytes(r.clock().Sub(r.startTime))
	}
	offset := wallOffset
	if r.cursor > offset {
		offset = r.cursor
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	r.chunks = append(r.chunks, chunk{offset: offset, data: buf})
	r.cursor = offset + len(buf)
	return nil
}

// Finalize renders the accumulated chunks into a single WAV file. Returns
// (nil, nil) if nothing was ever recorded so callers can skip the artifact.
func (r *Recorder) Finalize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return nil, nil
	}

	if r.cfg.DirectRTP {
		// Direct mode concatenates payloads in arrival order; a gap-aware
		// timeline is meaningless for undecoded codec bytes.
		var all []byte
		for _, c := range r.chunks {
			all = append(all, c.data...)
		}
		return BuildDirectRTPWAV(all, r.directPayloadType)
	}

	sessionBytes := 0
	if r.started {
		sessionBytes = r.durationBytes(r.clock().Sub(r.startTime))
	}
	total := sessionBytes
	for _, c := range r.chunks {
		if end := c.offset + len(c.data); end > total {
			total = end
		}
	}

	pcm := make([]byte, total)
	for _, c := range r.chunks {
		copy(pcm[c.offset:], c.data)
	}
	if r.log != nil {
		r.log.Infow("recorder finalized", "track", r.trackID, "bytes", total, "chunks", len(r.chunks))
	}
	return BuildWAV(pcm, r.sampleRate, r.channels), nil
}

func int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
