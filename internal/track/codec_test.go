package track

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/sipsrv"
)

func TestEncodeDecodeRTPRoundTripPCMU(t *testing.T) {
	pcm := []int16{0, 1000, -1000, 32767, -32768, 500}

	wire, err := encodeToRTP(pcm, int(sipsrv.CodecPCMU.ClockRate), sipsrv.CodecPCMU)
	require.NoError(t, err)
	require.Len(t, wire, len(pcm))

	back, err := decodeFromRTP(wire, sipsrv.CodecPCMU, int(sipsrv.CodecPCMU.ClockRate))
	require.NoError(t, err)
	require.Len(t, back, len(pcm))

	// u-law is lossy; every sample should at least land within a coarse
	// quantization band of the original.
	for i, want := range pcm {
		got := back[i]
		require.Less(t, abs32(int32(got)-int32(want)), int32(1<<12), "sample %d: got %d, want near %d", i, got, want)
	}
}

func TestEncodeDecodeRTPRoundTripPCMA(t *testing.T) {
	pcm := []int16{100, -100, 8000, -8000}

	wire, err := encodeToRTP(pcm, int(sipsrv.CodecPCMA.ClockRate), sipsrv.CodecPCMA)
	require.NoError(t, err)
	require.Len(t, wire, len(pcm))

	back, err := decodeFromRTP(wire, sipsrv.CodecPCMA, int(sipsrv.CodecPCMA.ClockRate))
	require.NoError(t, err)
	require.Len(t, back, len(pcm))
}

func TestEncodeToRTPRejectsUnsupportedCodec(t *testing.T) {
	_, err := encodeToRTP([]int16{1, 2, 3}, int(sipsrv.CodecG722.ClockRate), sipsrv.CodecG722)
	require.Error(t, err, "expected G722 to be rejected by the PCM transcoder")
}

func TestDecodeFromRTPRejectsUnsupportedCodec(t *testing.T) {
	_, err := decodeFromRTP([]byte{1, 2, 3}, sipsrv.CodecG722, int(sipsrv.CodecG722.ClockRate))
	require.Error(t, err, "expected G722 to be rejected by the PCM transcoder")
}

func TestInt16LEByteRoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 12345}
	require.Equal(t, pcm, leToInt16(int16ToLE(pcm)))
}

func TestDownmixUpmixRoundTripOnIdenticalChannels(t *testing.T) {
	mono := []int16{10, -20, 30, -40}
	stereo := upmix(mono)
	require.Len(t, stereo, len(mono)*2)

	back := downmix(stereo)
	require.Equal(t, mono, back, "upmixing identical L/R then downmixing should recover the original mono samples")
}

func TestDownmixAveragesDistinctChannels(t *testing.T) {
	// left=100, right=200 interleaved -> average 150.
	stereo := []int16{100, 200, -100, -200}
	mono := downmix(stereo)
	require.Equal(t, []int16{150, -150}, mono)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
