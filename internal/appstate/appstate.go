// Package appstate wires one process's shared resources — config, logging,
// the RTP port allocator, and the CDR pipeline — into the narrow factory
// interfaces ActiveCall depends on, so the call engine itself
// never imports a transport, storage, or provider package directly.
package appstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/restsend/active-call/internal/call"
	"github.com/restsend/active-call/internal/cdr"
	"github.com/restsend/active-call/internal/cdr/store"
	"github.com/restsend/active-call/internal/config"
	"github.com/restsend/active-call/internal/dialogue"
	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/sipsrv"
	"github.com/restsend/active-call/internal/track"
)

// AppState is the process-wide dependency bundle, built once in cmd/server
// and handed to every inbound call as it's created.
type AppState struct {
	Config *config.Config
	Log    logx.Logger

	redis  *redis.Client
	ports  *sipsrv.PortAllocator
	cdrMgr *cdr.Manager
}

// New builds an AppState from cfg. It does not start any background work;
// call Serve to run the CDR pipeline.
func New(cfg *config.Config, log logx.Logger) (*AppState, error) {
	a := &AppState{Config: cfg, Log: log}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	a.ports = sipsrv.NewPortAllocator(a.redis, log, cfg.SIPRTPPortMin, cfg.SIPRTPPortMax)

	backend, err := store.Build(cfg.CDR)
	if err != nil {
		return nil, fmt.Errorf("appstate: build cdr backend: %w", err)
	}
	a.cdrMgr = cdr.NewManager(backend, log, cfg.CDR.MaxConcurrent)

	return a, nil
}

// Serve runs the CDR pipeline until ctx is canceled. It is meant to be
// started once from cmd/server's main goroutine, alongside the SIP and
// WebSocket listeners.
func (a *AppState) Serve(ctx context.Context) {
	if a.redis != nil {
		if err := a.ports.Init(ctx); err != nil {
			a.Log.Warnw("RTP port allocator init failed, SIP calls will fail", "error", err)
		}
	}
	a.cdrMgr.Serve(ctx)
}

// Stop releases any RTP ports this process still holds, for graceful
// shutdown.
func (a *AppState) Stop(ctx context.Context) {
	if a.redis != nil {
		a.ports.ReleaseAll(ctx)
	}
}

// CDRSender exposes the CDR pipeline as the narrow cdr.Sender contract
// ActiveCall expects in its Deps.
func (a *AppState) CDRSender() cdr.Sender { return a.cdrMgr }

// ICEServers returns the configured STUN/TURN list as event.ICEServer
// values, ready to pass into a CallOption or straight into Deps.
func (a *AppState) ICEServers() []event.ICEServer {
	out := make([]event.ICEServer, 0, len(a.Config.ICEServers))
	for _, s := range a.Config.ICEServers {
		out = append(out, event.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

// NewWebRTCTrack implements call.TrackFactory.
func (a *AppState) NewWebRTCTrack(id string, offerSDP string, iceServers []event.ICEServer) (track.MediaTrack, error) {
	if len(iceServers) == 0 {
		iceServers = a.ICEServers()
	}
	return track.NewWebRTCTrack(id, a.Log, offerSDP, iceServers), nil
}

// NewSIPTrack implements call.TrackFactory: it allocates an RTP port from
// the pool, resolves the requested codec names against sipsrv's supported
// set, and binds the track's UDP socket.
func (a *AppState) NewSIPTrack(id string, codecPreference []string, directRTP bool) (track.MediaTrack, error) {
	port, err := a.ports.Allocate()
	if err != nil {
		return nil, fmt.Errorf("appstate: allocate RTP port: %w", err)
	}
	pref := make([]sipsrv.Codec, 0, len(codecPreference))
	for _, name := range codecPreference {
		if c := sipsrv.GetCodecByName(name); c != nil {
			pref = append(pref, *c)
		}
	}
	if len(pref) == 0 {
		pref = sipsrv.SupportedCodecs
	}
	t, err := track.NewSIPTrack(id, a.Log, a.Config.SIPLocalIP, port, pref, directRTP)
	if err != nil {
		a.ports.Release(port)
		return nil, err
	}
	return t, nil
}

// OpenDumpSink opens the per-call JSONL event/command dump file if
// cfg.DumpEvents is set, using the same date-partitioned path scheme as the
// CDR formatter (persisted state layout). Returns a nil DumpSink,
// nil error when dumping is disabled, so callers can pass the result
// straight into NewCall without a branch.
func (a *AppState) OpenDumpSink(sessionID string, startTime time.Time) (call.DumpSink, error) {
	if !a.Config.DumpEvents {
		return nil, nil
	}
	sink, err := cdr.OpenFileDumpSink(cdr.NewDefaultFormatter(a.Config.CDR.Root), sessionID, startTime)
	if err != nil {
		return nil, fmt.Errorf("appstate: open dump sink: %w", err)
	}
	return sink, nil
}

// NewASRClient, NewVADClassifier, and NewTTSProvider implement
// call.SpeechDispatcher. Every concrete ASR/TTS/VAD vendor adapter is out of
// scope (Non-goals); AppState only owns the lookup contract the call
// engine depends on, so a deployment wires real providers in by registering
// them here rather than the call engine importing vendor SDKs directly.
func (a *AppState) NewASRClient(cfg call.AsrConfig, trackID string, sender media.EventSender) (media.AsrClient, error) {
	return nil, fmt.Errorf("appstate: no ASR provider registered for %q", cfg.Provider)
}

func (a *AppState) NewVADClassifier(provider string) (media.VADClassifier, error) {
	if provider == "" {
		return nil, nil // media.VAD fails open with a nil classifier
	}
	return nil, fmt.Errorf("appstate: no VAD provider registered for %q", provider)
}

func (a *AppState) NewTTSProvider(provider string) (call.TTSProvider, error) {
	return nil, fmt.Errorf("appstate: no TTS provider registered for %q", provider)
}

// NewDialogue builds the configured LLM dialogue handler, or nil when
// cfg.LLM.Enabled is false — a media-only call where the WebSocket/WebRTC
// client drives TTS/play itself via explicit commands (expanded).
func (a *AppState) NewDialogue() dialogue.Handler {
	if !a.Config.LLM.Enabled {
		return nil
	}
	return dialogue.NewLLMDialogue(a.Log, dialogue.LLMConfig{
		Provider: a.Config.LLM.Provider,
		Model:    a.Config.LLM.Model,
		BaseURL:  a.Config.LLM.BaseURL,
		APIKey:   a.Config.LLM.APIKey,
		Prompt:   a.Config.LLM.Prompt,
		Greeting: a.Config.LLM.Greeting,
	})
}

// NewCall builds one ActiveCall, wiring this AppState's factories, CDR
// sender, and ICE server list into call.Deps. The
// caller still owns starting the engine's Serve loop and handing it its
// first Invite/Accept command.
func (a *AppState) NewCall(ctx context.Context, sessionID string, callType call.Type, caller, callee string, dlg dialogue.Handler, dump call.DumpSink, audioRx <-chan []byte) *call.ActiveCall {
	deps := call.Deps{
		Log:          a.Log,
		TrackFactory: a,
		Speech:       a,
		Dialogue:     dlg,
		CDR:          a.CDRSender(),
		DumpSink:     dump,
		ICEServers:   a.ICEServers(),
		Caller:       caller,
		Callee:       callee,
	}
	return call.New(ctx, sessionID, callType, deps, audioRx)
}
