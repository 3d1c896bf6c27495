package call

import (
	"github.com/restsend/active-call/internal/media"
)

// SpeechDispatcher resolves ASR/TTS/VAD providers by name (// "the speech-engine dispatcher (provider lookup for ASR/TTS/VAD)").
// AppState implements this over its configured provider registry; the call
// engine only ever sees the narrow factory contract.
type SpeechDispatcher interface {
	NewASRClient(cfg AsrConfig, trackID string, sender media.EventSender) (media.AsrClient, error)
	NewVADClassifier(provider string) (media.VADClassifier, error)
	NewTTSProvider(provider string) (TTSProvider, error)
}
