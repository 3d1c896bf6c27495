// Package track implements the MediaTrack abstraction: one per-call leg of
// audio I/O, either a WebRTC PeerConnection track or a SIP/RTP stream. Both
// variants run frames through a media.Chain and report transport milestones
// as event.SessionEvents.
package track

import (
	"context"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/media"
)

// MediaTrack is the transport-agnostic interface the call engine drives.
// Implementations own exactly one audio leg (WebRTC peer or SIP/RTP dialog).
type MediaTrack interface {
	// ID identifies the track within its MediaStream.
	ID() string

	// Create starts the transport (ICE gathering for WebRTC, RTP socket bind
	// for SIP) and returns once ready to exchange a local description.
	Create(ctx context.Context) error

	// LocalDescription returns this track's SDP/answer body once Create has
	// completed negotiation on its side.
	LocalDescription() (string, error)

	// UpdateRemoteDescription applies a new remote SDP/offer (re-INVITE,
	// renegotiation, hold/resume).
	UpdateRemoteDescription(ctx context.Context, remote string) error

	// AppendProcessor adds p to the track's processing chain.
	AppendProcessor(p media.Processor)

	// RemoveProcessor removes the named processor from the chain.
	RemoveProcessor(name string) bool

	// SendFrame writes an outbound audio frame to the transport (TTS output,
	// ambiance, etc.).
	SendFrame(ctx context.Context, frame *media.AudioFrame) error

	// Events returns the channel of SessionEvents this track emits
	// (inactivity, hold changes, transport failures).
	Events() <-chan event.SessionEvent

	// Close tears down the transport. Idempotent.
	Close() error
}
