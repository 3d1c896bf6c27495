package track

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Opus wire parameters for the WebRTC audio track, per RFC 7587: RTP always
// signals two encoding channels even when the content is mono.
const (
	opusSampleRate    = 48000
	opusChannels      = 2
	opusFrameDuration = 20 // milliseconds
	opusSamplesPerCh  = opusSampleRate * opusFrameDuration / 1000
	opusPayloadType   = 111
	opusSDPFmtpLine   = "minptime=10;useinbandfec=1;stereo=0;sprop-stereo=0"
)

// opusCodec wraps an encoder/decoder pair, adapted from
// api/assistant-api/internal/channel/webrtc's OpusCodec but using
// gopkg.in/hraban/opus.v2 directly rather than a vendored cgo binding.
type opusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

func newOpusCodec() (*opusCodec, error) {
	enc, err := opus.NewEncoder(opusSampleRate, opusChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("track: create opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("track: create opus decoder: %w", err)
	}
	return &opusCodec{enc: enc, dec: dec}, nil
}

// encode takes one 20ms frame of interleaved int16 PCM (opusSamplesPerCh
// samples per channel) and returns the Opus payload.
func (c *opusCodec) encode(pcm []int16) ([]byte, error) {
	buf := make([]byte, 4000)
	n, err := c.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("track: opus encode: %w", err)
	}
	return buf[:n], nil
}

// decode takes one Opus payload and returns interleaved int16 PCM.
func (c *opusCodec) decode(payload []byte) ([]int16, error) {
	pcm := make([]int16, opusSamplesPerCh*opusChannels)
	n, err := c.dec.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("track: opus decode: %w", err)
	}
	return pcm[:n*opusChannels], nil
}

// downmix averages interleaved stereo samples to mono, the internal pipeline
// format used everywhere outside the WebRTC wire format.
func downmix(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		l, r := int32(stereo[2*i]), int32(stereo[2*i+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

// upmix duplicates mono samples to interleaved stereo for Opus encoding.
func upmix(mono []int16) []int16 {
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[2*i] = s
		stereo[2*i+1] = s
	}
	return stereo
}
