package call

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

func TestBroadcasterFansOutToEverySubscriber(t *testing.T) {
	b := newBroadcaster(logx.NewDevelopment())

	ch1, unsub1 := b.subscribe()
	defer unsub1()
	ch2, unsub2 := b.subscribe()
	defer unsub2()

	b.publish(event.SessionEvent{Tag: event.EvAnswer, SDP: "v=0"})

	ev1 := <-ch1
	ev2 := <-ch2
	require.Equal(t, event.EvAnswer, ev1.Tag)
	require.Equal(t, event.EvAnswer, ev2.Tag)
}

func TestBroadcasterDropsForLaggingSubscriberWithoutBlocking(t *testing.T) {
	b := newBroadcaster(logx.NewDevelopment())
	ch, unsub := b.subscribe()
	defer unsub()

	// Fill the subscriber's buffer past capacity; publish must never block
	// the caller even though nothing is draining ch.
	for i := 0; i < broadcastBuffer+10; i++ {
		b.publish(event.SessionEvent{Tag: event.EvMetrics})
	}

	require.Len(t, ch, broadcastBuffer)
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := newBroadcaster(logx.NewDevelopment())
	ch, unsub := b.subscribe()
	unsub()

	_, ok := <-ch
	require.False(t, ok, "expected the channel to be closed after unsubscribe")
}

func TestBroadcasterCloseAllClosesEverySubscriber(t *testing.T) {
	b := newBroadcaster(logx.NewDevelopment())
	ch1, _ := b.subscribe()
	ch2, _ := b.subscribe()

	b.closeAll()

	_, ok1 := <-ch1
	require.False(t, ok1, "expected ch1 to be closed by closeAll")
	_, ok2 := <-ch2
	require.False(t, ok2, "expected ch2 to be closed by closeAll")
}
