package media

import (
	"context"

	"github.com/restsend/active-call/internal/event"
)

// InternalSampleRate is the engine's canonical PCM sample rate.
const InternalSampleRate = 16000

// Ambiance is the built-in Ambiance processor: mixes a looping
// background track into PCM frames, ducking when the server-side track is
// speaking, using fixed-point phase-accumulator resampling and a soft-clip
// mixer.
type Ambiance struct {
	trackID string

	samples []int16
	cursor  int

	duckLevel       float64
	normalLevel     float64
	enabled         bool
	currentLevel    float64
	transitionSpeed float64

	resamplePhase uint32
	resampleStep  uint32
}

// NewAmbiance builds an Ambiance processor from already-loaded loop samples
// (PCM at InternalSampleRate) and the merged AmbianceOption.
func NewAmbiance(trackID string, loopSamples []int16, opt event.AmbianceOption) *Ambiance {
	normal := opt.NormalLevel
	if normal == 0 {
		normal = 0.3
	}
	duck := opt.DuckLevel
	if duck == 0 {
		duck = 0.1
	}
	speed := opt.TransitionSpeed
	if speed == 0 {
		speed = 0.01
	}
	return &Ambiance{
		trackID:         trackID,
		samples:         loopSamples,
		duckLevel:       duck,
		normalLevel:     normal,
		enabled:         opt.Enabled,
		currentLevel:    normal,
		transitionSpeed: speed,
		resampleStep:    1 << 16,
	}
}

func (a *Ambiance) Name() string { return "ambiance:" + a.trackID }

func (a *Ambiance) SetEnabled(enabled bool) { a.enabled = enabled }

func (a *Ambiance) getAmbientSampleWithRate(targetSampleRate int) int16 {
	if len(a.samples) == 0 {
		return 0
	}
	a.resampleStep = uint32((uint64(InternalSampleRate) << 16) / uint64(targetSampleRate))
	sample := a.samples[a.cursor]

	a.resamplePhase += a.resampleStep
	for a.resamplePhase >= (1 << 16) {
		a.resamplePhase -= 1 << 16
		a.cursor = (a.cursor + 1) % len(a.samples)
	}
	return sample
}

func softMix(signal, ambient int16, level float64) int16 {
	ambientScaled := (int32(ambient) * int32(level*256.0)) >> 8
	mixed := int32(signal) + ambientScaled

	switch {
	case mixed > 32767:
		over := mixed - 32767
		return int16(32767 - (over >> 2))
	case mixed < -32768:
		under := -32768 - mixed
		return int16(-32768 + (under >> 2))
	default:
		return int16(mixed)
	}
}

// ProcessFrame mixes the ambient loop into frame in place, or — for an Empty
// frame — synthesizes a 20ms PCM frame at the ambient level.
func (a *Ambiance) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if !a.enabled || len(a.samples) == 0 {
		return nil
	}

	serverSpeaking := frame.Samples.Kind == SamplesPCM && len(frame.Samples.PCM) > 0 || frame.Samples.Kind == SamplesRTP
	target := a.normalLevel
	if serverSpeaking {
		target = a.duckLevel
	}
	if diff := a.currentLevel - target; diff > 0.001 || diff < -0.001 {
		if a.currentLevel < target {
			a.currentLevel += a.transitionSpeed
			if a.currentLevel > target {
				a.currentLevel = target
			}
		} else {
			a.currentLevel -= a.transitionSpeed
			if a.currentLevel < target {
				a.currentLevel = target
			}
		}
	}

	sampleRate := frame.SampleRate
	if sampleRate <= 0 {
		sampleRate = InternalSampleRate
	}
	channels := frame.Channels
	if channels < 1 {
		channels = 1
	}

	switch frame.Samples.Kind {
	case SamplesPCM:
		pcm := frame.Samples.PCM
		frameSampleCount := len(pcm) / channels
		for i := 0; i < frameSampleCount; i++ {
			ambient := a.getAmbientSampleWithRate(sampleRate)
			for c := 0; c < channels; c++ {
				idx := i*channels + c
				if idx < len(pcm) {
					pcm[idx] = softMix(pcm[idx], ambient, a.currentLevel)
				}
			}
		}
	case SamplesEmpty:
		frameSize := (sampleRate * 20) / 1000
		ambientSamples := make([]int16, 0, frameSize*channels)
		for i := 0; i < frameSize; i++ {
			ambient := a.getAmbientSampleWithRate(sampleRate)
			scaled := int16((int32(ambient) * int32(a.currentLevel*256.0)) >> 8)
			for c := 0; c < channels; c++ {
				ambientSamples = append(ambientSamples, scaled)
			}
		}
		frame.Samples = PCMSamples(ambientSamples)
		frame.SampleRate = sampleRate
		frame.Channels = channels
	}
	return nil
}
