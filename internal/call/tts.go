package call

import "context"

// TTSProvider synthesizes text into signed-16 PCM at sampleRate, streaming
// successive chunks to onChunk as they become available so playback can
// start before synthesis finishes. The out-of-scope provider adapter
// (ElevenLabs, Azure, local model, ...) implements this; AppState resolves
// one per CallOption.TTS.Provider.
type TTSProvider interface {
	Synthesize(ctx context.Context, text, speaker string, sampleRate int, onChunk func([]int16) error) error
}
