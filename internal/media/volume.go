package media

import (
	"context"
	"sync/atomic"
)

// VolumeControl is the built-in VolumeControl/Mute processor: scales PCM
// samples by Gain; while muted (SetMuted) it zeroes them whatever Gain is.
type VolumeControl struct {
	trackID string
	Gain    float64
	muted   atomic.Bool
}

// NewVolumeControl builds a VolumeControl processor at unity gain.
func NewVolumeControl(trackID string) *VolumeControl {
	return &VolumeControl{trackID: trackID, Gain: 1.0}
}

func (v *VolumeControl) Name() string { return "volume:" + v.trackID }

// SetGain sets the linear gain multiplier (1.0 = unchanged).
func (v *VolumeControl) SetGain(gain float64) { v.Gain = gain }

// SetMuted zeroes all samples when true, independent of Gain. Safe to call
// from a goroutine other than the one driving ProcessFrame.
func (v *VolumeControl) SetMuted(muted bool) { v.muted.Store(muted) }

func (v *VolumeControl) Muted() bool { return v.muted.Load() }

func (v *VolumeControl) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if frame.Samples.Kind != SamplesPCM {
		return nil
	}
	if v.muted.Load() {
		for i := range frame.Samples.PCM {
			frame.Samples.PCM[i] = 0
		}
		return nil
	}
	if v.Gain == 1.0 {
		return nil
	}
	for i, s := range frame.Samples.PCM {
		scaled := float64(s) * v.Gain
		frame.Samples.PCM[i] = clampInt16(scaled)
	}
	return nil
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// AverageFloat32 returns the arithmetic mean of vs, or 0 for an empty slice,
// for processors that need a quick level estimate.
func AverageFloat32(vs []float32) float32 {
	if len(vs) == 0 {
		return 0
	}
	var sum float32
	for _, v := range vs {
		sum += v
	}
	return sum / float32(len(vs))
}
