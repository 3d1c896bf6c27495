// Package sipsrv holds the SIP/RTP-specific mechanics shared by the SIP
// MediaTrack variant: SDP generation/parsing/negotiation, RTP port
// allocation, RTP packet pacing, and RFC 4733 DTMF encode/decode.
package sipsrv

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec describes an audio codec's RTP wire parameters. ClockRate is the RTP
// clock rate, which for G722 is 8000 per RFC 3551 even though the decoded
// audio is nominally 16kHz — direct-recording code must use the nominal
// audio rate (media.NominalRate), not this ClockRate, for the WAV header.
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
	Channels    int
}

// Adapted from sip/infra/sdp.go's codec table, generalized to the full
// direct-recording set (PCMU, PCMA, G722, L16) plus DTMF.
var (
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000, Channels: 1}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000, Channels: 1}
	CodecG722 = Codec{Name: "G722", PayloadType: 9, ClockRate: 8000, Channels: 1}
	CodecL16  = Codec{Name: "L16", PayloadType: 11, ClockRate: 44100, Channels: 1}

	CodecTelephoneEvent = Codec{Name: "telephone-event", PayloadType: 101, ClockRate: 8000, Channels: 1}
)

// SupportedCodecs lists audio codecs in default preference order (excludes
// telephone-event). CallOption.CodecPreference can reorder this per call.
var SupportedCodecs = []Codec{CodecPCMU, CodecPCMA, CodecG722, CodecL16}

// SDPDirection is the media-level direction attribute.
type SDPDirection string

const (
	DirSendRecv SDPDirection = "sendrecv"
	DirSendOnly SDPDirection = "sendonly"
	DirRecvOnly SDPDirection = "recvonly"
	DirInactive SDPDirection = "inactive"
)

// MediaInfo is the parsed result of an SDP body relevant to the track.
type MediaInfo struct {
	ConnectionIP   string
	AudioPort      int
	PayloadTypes   []uint8
	PreferredCodec *Codec
	Direction      SDPDirection
	raw            string // trimmed body, for byte-exact no-op comparison
}

// IsHold reports whether the parsed SDP signals hold, any of
// sendonly, inactive, or connection address 0.0.0.0.
func (m *MediaInfo) IsHold() bool {
	if m.Direction == DirSendOnly || m.Direction == DirInactive {
		return true
	}
	return m.ConnectionIP == "0.0.0.0"
}

// SDPConfig configures SDP generation.
type SDPConfig struct {
	SessionID   string
	SessionName string
	LocalIP     string
	RTPPort     int
	Codecs      []Codec
	PTime       int
}

// DefaultSDPConfig advertises every supported codec in the given preference
// order (or SupportedCodecs if pref is empty).
func DefaultSDPConfig(localIP string, rtpPort int, pref []Codec) *SDPConfig {
	codecs := pref
	if len(codecs) == 0 {
		codecs = SupportedCodecs
	}
	return &SDPConfig{SessionID: "0", SessionName: "active-call", LocalIP: localIP, RTPPort: rtpPort, Codecs: codecs, PTime: 20}
}

// NegotiatedSDPConfig advertises only the single negotiated codec, which
// must be used for re-INVITE/UPDATE responses: advertising multiple codecs in
// a response confuses some PBXes into treating it as a new offer instead of
// a confirmation.
func NegotiatedSDPConfig(localIP string, rtpPort int, codec *Codec) *SDPConfig {
	if codec == nil {
		codec = &CodecPCMU
	}
	return &SDPConfig{SessionID: "0", SessionName: "active-call", LocalIP: localIP, RTPPort: rtpPort, Codecs: []Codec{*codec}, PTime: 20}
}

// GenerateSDP renders an SDP body for SIP responses. telephone-event is
// always appended to the m=audio payload list per RFC 4733 — most SIP
// endpoints refuse to bridge media without it even if DTMF is never sent.
func GenerateSDP(cfg *SDPConfig) string {
	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	sb.WriteString(fmt.Sprintf("o=activecall %s 0 IN IP4 %s\r\n", cfg.SessionID, cfg.LocalIP))
	sb.WriteString(fmt.Sprintf("s=%s\r\n", cfg.SessionName))
	sb.WriteString(fmt.Sprintf("c=IN IP4 %s\r\n", cfg.LocalIP))
	sb.WriteString("t=0 0\r\n")

	payloadTypes := make([]string, 0, len(cfg.Codecs)+1)
	hasTelEvent := false
	for _, c := range cfg.Codecs {
		payloadTypes = append(payloadTypes, strconv.Itoa(int(c.PayloadType)))
		if c.PayloadType == CodecTelephoneEvent.PayloadType {
			hasTelEvent = true
		}
	}
	if !hasTelEvent {
		payloadTypes = append(payloadTypes, strconv.Itoa(int(CodecTelephoneEvent.PayloadType)))
	}
	sb.WriteString(fmt.Sprintf("m=audio %d RTP/AVP %s\r\n", cfg.RTPPort, strings.Join(payloadTypes, " ")))

	for _, c := range cfg.Codecs {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", c.PayloadType, c.Name, c.ClockRate))
	}
	if !hasTelEvent {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", CodecTelephoneEvent.PayloadType, CodecTelephoneEvent.Name, CodecTelephoneEvent.ClockRate))
		sb.WriteString(fmt.Sprintf("a=fmtp:%d 0-16\r\n", CodecTelephoneEvent.PayloadType))
	}
	sb.WriteString(fmt.Sprintf("a=ptime:%d\r\n", cfg.PTime))
	sb.WriteString("a=sendrecv\r\n")
	return sb.String()
}

// ParseSDP extracts MediaInfo from a remote SDP body.
func ParseSDP(sdpBody []byte) (*MediaInfo, error) {
	if len(sdpBody) == 0 {
		return nil, fmt.Errorf("sipsrv: empty SDP body")
	}
	info := &MediaInfo{PayloadTypes: make([]uint8, 0), Direction: DirSendRecv, raw: normalizeSDP(string(sdpBody))}

	for _, line := range strings.Split(string(sdpBody), "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
		switch {
		case strings.HasPrefix(line, "c=IN IP4 "):
			info.ConnectionIP = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))
		case strings.HasPrefix(line, "m=audio "):
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				if port, err := strconv.Atoi(parts[1]); err == nil {
					info.AudioPort = port
				}
				for i := 3; i < len(parts); i++ {
					if pt, err := strconv.Atoi(parts[i]); err == nil && pt >= 0 && pt <= 127 {
						info.PayloadTypes = append(info.PayloadTypes, uint8(pt))
					}
				}
			}
		case line == "a=sendrecv":
			info.Direction = DirSendRecv
		case line == "a=sendonly":
			info.Direction = DirSendOnly
		case line == "a=recvonly":
			info.Direction = DirRecvOnly
		case line == "a=inactive":
			info.Direction = DirInactive
		}
	}

	for _, pt := range info.PayloadTypes {
		if pt == CodecTelephoneEvent.PayloadType {
			continue
		}
		if c := GetCodecByPayloadType(pt); c != nil {
			cc := *c
			info.PreferredCodec = &cc
			break
		}
	}
	if info.PreferredCodec == nil && len(info.PayloadTypes) > 0 {
		pcmu := CodecPCMU
		info.PreferredCodec = &pcmu
	}
	return info, nil
}

// normalizeSDP trims trailing whitespace per line for byte-exact comparison
// across CRLF/LF variance, "byte-exact after trimming" no-op rule.
func normalizeSDP(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r \t")
	}
	return strings.Join(lines, "\n")
}

// SameSDP reports whether a and b are identical after the trimming rule:
// identical SDPs (byte-exact after trimming) are no-ops.
func SameSDP(a, b []byte) bool {
	return normalizeSDP(string(a)) == normalizeSDP(string(b))
}

// Fingerprint computes the semantic-equivalence hook mentioned in the
// Open Question: codec list + direction + connection address. It is
// informational only — SameSDP (byte-exact) remains the sole no-op rule, so
// a fingerprint match does not by itself skip renegotiation.
func (m *MediaInfo) Fingerprint() string {
	var sb strings.Builder
	for _, pt := range m.PayloadTypes {
		fmt.Fprintf(&sb, "%d,", pt)
	}
	fmt.Fprintf(&sb, "|%s|%s", m.Direction, m.ConnectionIP)
	return sb.String()
}

// NegotiateCodec walks preference (the caller's CallOption.CodecPreference,
// or SupportedCodecs if empty) in order and returns the first codec also
// present in remotePayloadTypes, skipping telephone-event. Negotiation must
// not fail purely over ordering differences when a common codec exists.
func NegotiateCodec(preference []Codec, remotePayloadTypes []uint8) *Codec {
	if len(preference) == 0 {
		preference = SupportedCodecs
	}
	for _, want := range preference {
		for _, pt := range remotePayloadTypes {
			if pt == CodecTelephoneEvent.PayloadType {
				continue
			}
			if want.PayloadType == pt {
				c := want
				return &c
			}
		}
	}
	pcmu := CodecPCMU
	return &pcmu
}

func GetCodecByPayloadType(pt uint8) *Codec {
	for _, c := range SupportedCodecs {
		if c.PayloadType == pt {
			cc := c
			return &cc
		}
	}
	return nil
}

func GetCodecByName(name string) *Codec {
	name = strings.ToUpper(name)
	for _, c := range SupportedCodecs {
		if c.Name == name {
			cc := c
			return &cc
		}
	}
	return nil
}
