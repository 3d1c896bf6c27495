package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/sipsrv"
	"github.com/restsend/active-call/internal/track"
)

// sipOnlyFactory builds real SIPTracks bound to loopback, mirroring how
// AppState resolves codec names for TrackFactory.NewSIPTrack.
type sipOnlyFactory struct{ log logx.Logger }

func (f *sipOnlyFactory) NewWebRTCTrack(id string, offerSDP string, iceServers []event.ICEServer) (track.MediaTrack, error) {
	return nil, nil
}

func (f *sipOnlyFactory) NewSIPTrack(id string, codecPreference []string, directRTP bool) (track.MediaTrack, error) {
	pref := make([]sipsrv.Codec, 0, len(codecPreference))
	for _, name := range codecPreference {
		if c := sipsrv.GetCodecByName(name); c != nil {
			pref = append(pref, *c)
		}
	}
	return track.NewSIPTrack(id, f.log, "127.0.0.1", 0, pref, directRTP)
}

const activeSendRecvSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=audio 40000 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\na=sendrecv\r\n"
const holdSendOnlySDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=audio 40000 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\na=sendonly\r\n"

// TestSDPHoldTransitionEngagesCallStateAndHoldProcessor exercises a re-INVITE
// hold end to end: a SIPTrack's hold event, relayed through MediaStream,
// must set CallState.IsOnHold and arm the shared Hold processor so inbound
// audio is silenced ahead of ASR, not just stop the track's own outbound send.
func TestSDPHoldTransitionEngagesCallStateAndHoldProcessor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := New(ctx, "sess-sip-hold", TypeSIP, Deps{
		Log:          logx.NewDevelopment(),
		TrackFactory: &sipOnlyFactory{log: logx.NewDevelopment()},
	}, nil)
	go ac.Serve()

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdInvite, Option: &event.CallOption{}}))
	waitForState(t, ac, StateActive, time.Second)

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdAccept, Option: &event.CallOption{OfferSDP: activeSendRecvSDP}}))
	time.Sleep(50 * time.Millisecond)
	require.False(t, ac.state.IsOnHold())

	require.NoError(t, ac.EnqueueCommand(event.Command{Tag: event.CmdAccept, Option: &event.CallOption{OfferSDP: holdSendOnlySDP}}))

	require.Eventually(t, func() bool {
		return ac.state.IsOnHold()
	}, time.Second, 5*time.Millisecond, "expected CallState.IsOnHold to become true after a re-INVITE hold")

	ac.trackMu.Lock()
	h := ac.holds[ac.serverSideTrackID]
	ac.trackMu.Unlock()
	require.NotNil(t, h)
	require.True(t, h.Active(), "expected the shared Hold processor to be armed, silencing inbound audio ahead of ASR")
}
