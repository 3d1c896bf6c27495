package media

import (
	"context"

	"github.com/restsend/active-call/internal/event"
)

// VADConfig configures the voice-activity detector.
type VADConfig struct {
	Provider    string
	ThresholdDB float64
	HangoverMs  int
	PaddingMs   int
}

// VADClassifier is implemented by a provider adapter (out of scope per
// ); VAD only holds the config and drives the speech/silence
// transition events from the classifier's boolean verdict per frame.
type VADClassifier interface {
	IsSpeech(pcm []int16, sampleRate int) (bool, error)
}

// VAD is the built-in VAD processor. It classifies each frame and emits
// Speaking/Silence events on transitions, .
type VAD struct {
	trackID    string
	cfg        VADConfig
	classifier VADClassifier
	sender     EventSender

	speaking       bool
	hangoverFrames int
	sinceTransit   int
}

// NewVAD builds a VAD processor. classifier may be nil, in which case every
// non-silent PCM frame is treated as speech — a fail-open default for
// optional providers rather than an absent classifier.
func NewVAD(trackID string, cfg VADConfig, classifier VADClassifier, sender EventSender) *VAD {
	return &VAD{trackID: trackID, cfg: cfg, classifier: classifier, sender: sender}
}

func (v *VAD) Name() string { return "vad:" + v.trackID }

func (v *VAD) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if frame.Samples.Kind != SamplesPCM {
		return nil
	}
	isSpeech, err := v.classify(frame)
	if err != nil {
		return err
	}

	if isSpeech != v.speaking {
		v.speaking = isSpeech
		if v.sender != nil {
			tag := event.EvSilence
			if isSpeech {
				tag = event.EvSpeaking
			}
			v.sender.Send(event.SessionEvent{Tag: tag, TrackID: v.trackID})
		}
	}
	return nil
}

func (v *VAD) classify(frame *AudioFrame) (bool, error) {
	if v.classifier != nil {
		return v.classifier.IsSpeech(frame.Samples.PCM, frame.SampleRate)
	}
	return !frame.IsSilence(), nil
}
