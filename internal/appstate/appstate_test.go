package appstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/call"
	"github.com/restsend/active-call/internal/config"
	"github.com/restsend/active-call/internal/logx"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.CDR.Root = t.TempDir()
	return cfg
}

func TestNewBuildsLocalCDRBackendByDefault(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)
	require.Same(t, cfg, a.Config)
}

func TestICEServersMapsConfigEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.ICEServers = []config.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}, Username: "u", Credential: "p"},
	}
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	servers := a.ICEServers()
	require.Len(t, servers, 1)
	require.Equal(t, "stun:stun.example.com:3478", servers[0].URLs[0])
	require.Equal(t, "u", servers[0].Username)
	require.Equal(t, "p", servers[0].Credential)
}

func TestNewSIPTrackFailsWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	_, err = a.NewSIPTrack("leg1", nil, false)
	require.Error(t, err, "expected NewSIPTrack to fail: no redis_addr configured means no RTP port pool")
}

func TestNewWebRTCTrackFallsBackToConfiguredICEServers(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	track, err := a.NewWebRTCTrack("leg1", "", nil)
	require.NoError(t, err)
	require.NotNil(t, track)
	require.Equal(t, "leg1", track.ID())
}

func TestSpeechDispatcherReportsUnregisteredProviders(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	_, err = a.NewASRClient(call.AsrConfig{Provider: "deepgram"}, "leg1", nil)
	require.Error(t, err, "expected an error for an unregistered ASR provider")

	_, err = a.NewTTSProvider("elevenlabs")
	require.Error(t, err, "expected an error for an unregistered TTS provider")

	classifier, err := a.NewVADClassifier("")
	require.NoError(t, err)
	require.Nil(t, classifier, "empty VAD provider should fail open with (nil, nil)")

	_, err = a.NewVADClassifier("silero")
	require.Error(t, err, "expected an error for an unregistered VAD provider")
}

func TestOpenDumpSinkDisabledByConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DumpEvents = false
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	sink, err := a.OpenDumpSink("call-1", time.Now())
	require.NoError(t, err)
	require.Nil(t, sink, "expected a nil sink when dump_events is off")
}

func TestOpenDumpSinkWritesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.DumpEvents = true
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	sink, err := a.OpenDumpSink("call-2", time.Now())
	require.NoError(t, err)
	require.NotNil(t, sink, "expected a non-nil dump sink when dump_events is on")

	sink.Write("event", `{"event":"answer"}`)
	require.NoError(t, sink.Close())
}

func TestNewDialogueDisabledByDefault(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	require.Nil(t, a.NewDialogue(), "expected nil dialogue handler when llm.enabled is false")
}

func TestNewCallWiresDeps(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logx.NewDevelopment())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := a.NewCall(ctx, "sess-1", call.TypeWebSocket, "caller@example.com", "callee@example.com", nil, nil, nil)
	require.NotNil(t, ac)
	require.Equal(t, "sess-1", ac.SessionID())
	require.Equal(t, call.StateIdle, ac.State())
}
