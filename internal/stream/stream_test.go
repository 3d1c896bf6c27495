package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/track"
)

// fakeTrack is a minimal track.MediaTrack for exercising MediaStream's
// registry and forwarding logic without any real transport.
type fakeTrack struct {
	id     string
	events chan event.SessionEvent
	sent   chan *media.AudioFrame
	procs  []media.Processor
	closed bool
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, events: make(chan event.SessionEvent, 8), sent: make(chan *media.AudioFrame, 8)}
}

func (t *fakeTrack) ID() string                        { return t.id }
func (t *fakeTrack) Create(ctx context.Context) error  { return nil }
func (t *fakeTrack) LocalDescription() (string, error) { return "", nil }
func (t *fakeTrack) UpdateRemoteDescription(ctx context.Context, remote string) error {
	return nil
}
func (t *fakeTrack) AppendProcessor(p media.Processor) { t.procs = append(t.procs, p) }
func (t *fakeTrack) RemoveProcessor(name string) bool {
	for i, p := range t.procs {
		if p.Name() == name {
			t.procs = append(t.procs[:i], t.procs[i+1:]...)
			return true
		}
	}
	return false
}
func (t *fakeTrack) SendFrame(ctx context.Context, frame *media.AudioFrame) error {
	select {
	case t.sent <- frame:
	default:
	}
	return nil
}
func (t *fakeTrack) Events() <-chan event.SessionEvent { return t.events }
func (t *fakeTrack) Close() error {
	t.closed = true
	close(t.events)
	return nil
}

var _ track.MediaTrack = (*fakeTrack)(nil)

func TestAddTrackAndLookup(t *testing.T) {
	s := New(logx.NewDevelopment())
	tr := newFakeTrack("leg1")
	s.AddTrack(tr)

	require.Equal(t, tr, s.Track("leg1"))
	require.Nil(t, s.Track("nope"))
	require.Equal(t, []string{"leg1"}, s.Tracks())
}

func TestRemoveTrackClosesItAndForgetsIt(t *testing.T) {
	s := New(logx.NewDevelopment())
	tr := newFakeTrack("leg1")
	s.AddTrack(tr)

	require.NoError(t, s.RemoveTrack("leg1"))
	require.True(t, tr.closed)
	require.Nil(t, s.Track("leg1"))

	require.Error(t, s.RemoveTrack("leg1"), "expected removing an already-removed track to fail")
}

func TestAppendAndRemoveProcessorRequireKnownTrack(t *testing.T) {
	s := New(logx.NewDevelopment())
	require.Error(t, s.AppendProcessor("nope", nil))
	require.Error(t, s.RemoveProcessor("nope", "whatever"))
}

func TestForwardToRelaysFramesToPeer(t *testing.T) {
	s := New(logx.NewDevelopment())
	from, to := newFakeTrack("a"), newFakeTrack("b")
	s.AddTrack(from)
	s.AddTrack(to)

	require.NoError(t, s.ForwardTo("a", "b"))
	require.Len(t, from.procs, 1)

	frame := &media.AudioFrame{TrackID: "a", Samples: media.Samples{PCM: []int16{1, 2, 3}}}
	require.NoError(t, from.procs[0].ProcessFrame(context.Background(), frame))

	select {
	case got := <-to.sent:
		require.Same(t, frame, got)
	case <-time.After(time.Second):
		t.Fatal("peer never received the forwarded frame")
	}

	require.NoError(t, s.StopForwarding("a", "b"))
	require.Empty(t, from.procs)
}

func TestForwardToRejectsUnknownTracks(t *testing.T) {
	s := New(logx.NewDevelopment())
	s.AddTrack(newFakeTrack("a"))

	require.Error(t, s.ForwardTo("a", "missing"))
	require.Error(t, s.ForwardTo("missing", "a"))
}

func TestEventsAreRelayedFromEveryTrack(t *testing.T) {
	s := New(logx.NewDevelopment())
	tr := newFakeTrack("leg1")
	s.AddTrack(tr)

	tr.events <- event.SessionEvent{Tag: event.EvAnswer, TrackID: "leg1"}

	select {
	case ev := <-s.Events():
		require.Equal(t, event.EvAnswer, ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("track event was never relayed onto the stream's shared channel")
	}
}

func TestBroadcastEventAndSendGoToSharedChannel(t *testing.T) {
	s := New(logx.NewDevelopment())

	s.BroadcastEvent(event.SessionEvent{Tag: event.EvHangup})
	s.Send(event.SessionEvent{Tag: event.EvError})

	first := <-s.Events()
	second := <-s.Events()
	require.ElementsMatch(t, []event.EventTag{event.EvHangup, event.EvError}, []event.EventTag{first.Tag, second.Tag})
}

func TestCloseClosesEveryTrackAndClearsRegistry(t *testing.T) {
	s := New(logx.NewDevelopment())
	a, b := newFakeTrack("a"), newFakeTrack("b")
	s.AddTrack(a)
	s.AddTrack(b)

	s.Close()

	require.True(t, a.closed)
	require.True(t, b.closed)
	require.Empty(t, s.Tracks())
}
