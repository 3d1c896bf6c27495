package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAV PCM constants for the canonical 16-bit recorder output format.
const (
	wavBytesPerSample = 2 // signed-16 → 2 bytes per sample
	wavBitsPerSample  = 16
	wavPCMFormat      = 1 // WAV PCM format tag
	wavHeaderLen      = 44
)

// BuildWAV wraps raw PCM bytes (already at sampleRate/channels/16-bit) in a
// 44-byte RIFF/WAVE/fmt/data header. File length equals 44 + len(pcmData).
func BuildWAV(pcmData []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	bps := sampleRate * channels * wavBytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}

// NominalRate returns the RTP payload type's nominal sample rate for direct
// recording, 0=PCMU/8k, 8=PCMA/8k, 9=G722/16k, 11=L16/44.1k.
func NominalRate(payloadType uint8) (rate int, ok bool) {
	switch payloadType {
	case 0, 8:
		return 8000, true
	case 9:
		return 16000, true
	case 11:
		return 44100, true
	default:
		return 0, false
	}
}

// WAV format tags for the codecs honored by direct RTP recording.
const (
	wavFmtPCM   = 1
	wavFmtALaw  = 6
	wavFmtMULaw = 7
	wavFmtG722  = 0x0042
)

// formatTagFor returns the WAV format tag and bits-per-sample for a direct
// RTP-recorded payload type; the payload bytes are written verbatim (no
// transcoding), so the resulting file length is the header size plus the raw
// RTP payload size exactly.
func formatTagFor(payloadType uint8) (tag uint16, bitsPerSample uint16) {
	switch payloadType {
	case 0:
		return wavFmtMULaw, 8
	case 8:
		return wavFmtALaw, 8
	case 9:
		return wavFmtG722, 8
	case 11:
		return wavFmtPCM, 16
	default:
		return wavFmtPCM, 16
	}
}

// BuildDirectRTPWAV wraps the raw RTP payload bytes for a direct-recorded
// payload type in a WAV header stamped with that codec's nominal sample
// rate, without transcoding the payload. One channel, mono, always.
func BuildDirectRTPWAV(payload []byte, payloadType uint8) ([]byte, error) {
	rate, ok := NominalRate(payloadType)
	if !ok {
		return nil, fmt.Errorf("media: payload type %d not honored for direct recording", payloadType)
	}
	tag, bits := formatTagFor(payloadType)

	var buf bytes.Buffer
	bytesPerSample := int(bits) / 8
	bps := rate * 1 * bytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(payload)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, tag)
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, bits)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes(), nil
}
