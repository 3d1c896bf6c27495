// Package media implements the AudioFrame carrier and the per-track
// ProcessorChain described in the session engine's component design.
package media

// SamplesKind tags the active variant of Samples.
type SamplesKind int

const (
	// SamplesPCM carries signed-16 PCM at Frame.SampleRate/Frame.Channels.
	SamplesPCM SamplesKind = iota
	// SamplesRTP carries an undecoded RTP payload; PayloadType selects the codec.
	SamplesRTP
	// SamplesEmpty carries only timing/silence signaling, no payload.
	SamplesEmpty
)

// Samples is the tagged variant over a frame's payload.
type Samples struct {
	Kind SamplesKind

	// PCM, valid when Kind == SamplesPCM: signed-16 interleaved samples.
	PCM []int16

	// RTP fields, valid when Kind == SamplesRTP.
	SequenceNumber uint16
	PayloadType    uint8
	Payload        []byte
}

// PCMSamples builds a PCM-variant Samples value.
func PCMSamples(pcm []int16) Samples { return Samples{Kind: SamplesPCM, PCM: pcm} }

// RTPSamples builds an RTP-variant Samples value.
func RTPSamples(seq uint16, pt uint8, payload []byte) Samples {
	return Samples{Kind: SamplesRTP, SequenceNumber: seq, PayloadType: pt, Payload: payload}
}

// EmptySamples builds the Empty variant.
func EmptySamples() Samples { return Samples{Kind: SamplesEmpty} }

// AudioFrame is the unit of media flowing through a track's processor chain.
type AudioFrame struct {
	TrackID    string
	Timestamp  int64 // milliseconds, monotonic-ish
	SampleRate int
	Channels   int
	Samples    Samples

	// SourcePacket optionally references the originating transport packet
	// (e.g. an *rtp.Packet) for processors that need header access beyond
	// what Samples.RTP exposes. Left untyped deliberately: only the
	// producing track and its own processors interpret it.
	SourcePacket any
}

// NewPCMFrame constructs a canonical-rate PCM frame.
func NewPCMFrame(trackID string, ts int64, sampleRate, channels int, pcm []int16) AudioFrame {
	return AudioFrame{
		TrackID:    trackID,
		Timestamp:  ts,
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    PCMSamples(pcm),
	}
}

// IsSilence reports whether the frame carries no audible payload.
func (f *AudioFrame) IsSilence() bool {
	if f.Samples.Kind == SamplesEmpty {
		return true
	}
	if f.Samples.Kind == SamplesPCM {
		for _, s := range f.Samples.PCM {
			if s != 0 {
				return false
			}
		}
		return true
	}
	return false
}
