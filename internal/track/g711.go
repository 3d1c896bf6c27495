package track

import (
	"encoding/binary"

	"github.com/zaf/g711"

	internalmedia "github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/sipsrv"
)

// encodeToRTP transcodes one internal-rate PCM frame into the wire payload
// for codec, resampling to the codec's clock rate first. Only PCMU/PCMA are
// supported for PCM transcoding via zaf/g711 — G722/L16 callers must supply
// SamplesRTP frames directly.
func encodeToRTP(pcm []int16, inRate int, codec sipsrv.Codec) ([]byte, error) {
	resampled := pcm
	if inRate != int(codec.ClockRate) {
		resampled = internalmedia.Resample(pcm, inRate, int(codec.ClockRate))
	}
	raw := int16ToLE(resampled)

	switch codec.PayloadType {
	case sipsrv.CodecPCMU.PayloadType:
		return g711.EncodeUlaw(raw), nil
	case sipsrv.CodecPCMA.PayloadType:
		return g711.EncodeAlaw(raw), nil
	default:
		return nil, errUnsupportedPCMCodec(codec)
	}
}

// decodeFromRTP transcodes a PCMU/PCMA payload into internal-rate PCM.
func decodeFromRTP(payload []byte, codec sipsrv.Codec, outRate int) ([]int16, error) {
	var raw []byte
	switch codec.PayloadType {
	case sipsrv.CodecPCMU.PayloadType:
		raw = g711.DecodeUlaw(payload)
	case sipsrv.CodecPCMA.PayloadType:
		raw = g711.DecodeAlaw(payload)
	default:
		return nil, errUnsupportedPCMCodec(codec)
	}
	pcm := leToInt16(raw)
	if int(codec.ClockRate) != outRate {
		pcm = internalmedia.Resample(pcm, int(codec.ClockRate), outRate)
	}
	return pcm, nil
}

func errUnsupportedPCMCodec(codec sipsrv.Codec) error {
	return &unsupportedCodecError{codec.Name}
}

type unsupportedCodecError struct{ name string }

func (e *unsupportedCodecError) Error() string {
	return "track: PCM transcoding not supported for codec " + e.name
}

func int16ToLE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func leToInt16(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}
