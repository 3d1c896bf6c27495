package media

import "context"

// Denoiser performs the actual suppression; a concrete implementation is an
// out-of-scope model-based provider. Denoise holds config and
// dispatch only.
type Denoiser interface {
	Suppress(pcm []int16, sampleRate int) error
}

// Denoise is the built-in Denoise processor: in-place suppression on PCM
// frames, a no-op on RTP frames.
type Denoise struct {
	trackID string
	impl    Denoiser
	enabled bool
}

// NewDenoise builds a Denoise processor. impl may be nil, in which case the
// processor is a pass-through (useful when the toggle is enabled but no
// provider is configured yet).
func NewDenoise(trackID string, impl Denoiser, enabled bool) *Denoise {
	return &Denoise{trackID: trackID, impl: impl, enabled: enabled}
}

func (d *Denoise) Name() string { return "denoise:" + d.trackID }

func (d *Denoise) ProcessFrame(ctx context.Context, frame *AudioFrame) error {
	if !d.enabled || d.impl == nil || frame.Samples.Kind != SamplesPCM {
		return nil
	}
	return d.impl.Suppress(frame.Samples.PCM, frame.SampleRate)
}
