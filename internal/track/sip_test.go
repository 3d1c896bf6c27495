package track

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

func newTestSIPTrack(t *testing.T) *SIPTrack {
	t.Helper()
	tr, err := NewSIPTrack("test-track", logx.NewDevelopment(), "127.0.0.1", 0, nil, false)
	require.NoError(t, err)
	require.NoError(t, tr.Create(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func activeSDP() string {
	return "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=audio 40000 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\na=sendrecv\r\n"
}

func holdSDP() string {
	return "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=audio 40000 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\na=sendonly\r\n"
}

func drainTrackStart(t *testing.T, tr *SIPTrack) {
	t.Helper()
	select {
	case ev := <-tr.Events():
		require.Equal(t, event.EvTrackStart, ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected a trackStart event")
	}
}

func TestUpdateRemoteDescriptionEmitsHoldOnTransition(t *testing.T) {
	tr := newTestSIPTrack(t)
	drainTrackStart(t, tr)

	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), activeSDP()))
	require.False(t, tr.onHold)

	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), holdSDP()))
	require.True(t, tr.onHold)

	select {
	case ev := <-tr.Events():
		require.Equal(t, event.EvHold, ev.Tag)
		require.True(t, ev.OnHold)
		require.Equal(t, "test-track", ev.TrackID)
	case <-time.After(time.Second):
		t.Fatal("expected a hold event on sendonly transition")
	}
}

func TestUpdateRemoteDescriptionEmitsResumeOnTransitionBack(t *testing.T) {
	tr := newTestSIPTrack(t)
	drainTrackStart(t, tr)

	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), activeSDP()))
	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), holdSDP()))
	<-tr.Events() // the hold transition

	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), activeSDP()))
	require.False(t, tr.onHold)

	select {
	case ev := <-tr.Events():
		require.Equal(t, event.EvHold, ev.Tag)
		require.False(t, ev.OnHold)
	case <-time.After(time.Second):
		t.Fatal("expected a resume (hold=false) event")
	}
}

func TestUpdateRemoteDescriptionNoEventOnRepeatedSDP(t *testing.T) {
	tr := newTestSIPTrack(t)
	drainTrackStart(t, tr)

	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), activeSDP()))
	require.NoError(t, tr.UpdateRemoteDescription(context.Background(), activeSDP()))

	select {
	case ev := <-tr.Events():
		t.Fatalf("expected no event for a byte-identical repeated SDP, got %v", ev.Tag)
	case <-time.After(50 * time.Millisecond):
	}
}
