package call

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
)

func TestCommandQueuePreservesOrder(t *testing.T) {
	q := newCommandQueue()
	require.True(t, q.push(event.Command{Tag: event.CmdMute}), "push on a fresh queue should succeed")
	require.True(t, q.push(event.Command{Tag: event.CmdUnmute}), "push on a fresh queue should succeed")

	items := q.popAll()
	require.Len(t, items, 2)
	require.Equal(t, event.CmdMute, items[0].Tag)
	require.Equal(t, event.CmdUnmute, items[1].Tag)

	// popAll drains the queue; a second call should see nothing left.
	require.Empty(t, q.popAll())
}

func TestCommandQueueWakeCoalescesPushes(t *testing.T) {
	q := newCommandQueue()
	q.push(event.Command{Tag: event.CmdMute})
	q.push(event.Command{Tag: event.CmdUnmute})

	select {
	case <-q.wake():
	default:
		t.Fatal("expected wake to be signaled after pushing")
	}

	// The notify channel is 1-buffered: a second push before the consumer
	// drains it must not block, and the two pushes yield a single wakeup.
	select {
	case <-q.wake():
		t.Fatal("wake should have been drained by the first receive")
	default:
	}
}

func TestCommandQueueCloseStopsAcceptingNewPushes(t *testing.T) {
	q := newCommandQueue()
	q.close()
	require.False(t, q.push(event.Command{Tag: event.CmdHangup}), "push after close should fail")
}
