package media

import (
	"context"
	"sync/atomic"

	"github.com/restsend/active-call/internal/event"
)

// AsrConfig configures the streaming ASR feed.
type AsrConfig struct {
	Provider    string
	Language    string
	Streaming   bool
	Punctuation bool
	Vocab       []string
}

// AsrClient is the out-of-scope provider adapter contract: push decoded PCM,
// receive delta/final transcripts asynchronously via OnDelta/OnFinal.
type AsrClient interface {
	Push(pcm []int16, sampleRate int) error
	Close() error
}

// AsrFeed is the built-in AsrFeed processor: the only processor allowed to
// push transcription events upward. It buffers decoded PCM and
// forwards it to the configured ASR client; delta/final events normally
// arrive asynchronously from the client and are forwarded by whatever wires
// the client up (the client itself is an out-of-scope provider adapter), but
// AsrFeed exposes EmitDelta/EmitFinal so that wiring can route through one
// place consistent with the "only AsrFeed pushes transcription events"
// contract.
type AsrFeed struct {
	trackID string
	cfg     AsrConfig
	client  AsrClient
	sender  EventSender
	paused  atomic.Bool
}

// NewAsrFeed builds an AsrFeed processor. client may be nil if paused from
// the start (e.g. while a REFER child leg is active).
func NewAsrFeed(trackID string, cfg AsrConfig, client AsrClient, sender EventSender) *AsrFeed {
	return &AsrFeed{trackID: trackID, cfg: cfg, client: client, sender: sender}
}

func (a *AsrFeed) Name() string { return "asrfeed:" + a.trackID }

// SetPaused stops forwarding audio to the client without removing the
// processor from the chain (used by the Pause/Resume commands). Safe to call
// from a goroutine other than the one driving ProcessFrame.
func (a *AsrFeed) SetPaused(paused bool) { a.paused.Store(paused) }

func (a *AsrFeed) Config() AsrConfig { return a.cfg }

func (a *AsrFeed) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if a.paused.Load() || a.client == nil || frame.Samples.Kind != SamplesPCM {
		return nil
	}
	return a.client.Push(frame.Samples.PCM, frame.SampleRate)
}

// EmitDelta forwards a partial transcript as an AsrDelta SessionEvent.
func (a *AsrFeed) EmitDelta(text string) {
	if a.sender != nil {
		a.sender.Send(event.SessionEvent{Tag: event.EvAsrDelta, TrackID: a.trackID, Text: text})
	}
}

// EmitFinal forwards a finalized transcript as an AsrFinal SessionEvent.
func (a *AsrFeed) EmitFinal(text string, timingMs float64) {
	if a.sender != nil {
		a.sender.Send(event.SessionEvent{Tag: event.EvAsrFinal, TrackID: a.trackID, Text: text, TimingMs: timingMs})
	}
}

// Close releases the underlying client, if any.
func (a *AsrFeed) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}
