package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Event, until EventKind) []Event {
	t.Helper()
	var got []Event
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "input closed before %s", until)
			got = append(got, ev)
			if ev.Kind == until {
				return got
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s after %d events", until, len(got))
		}
	}
}

func TestInputQueueCoalescesMovesAndKeepsControlEvents(t *testing.T) {
	q := newInputQueue()
	defer q.close()

	require.True(t, q.push(Event{Kind: PointerDown, X: 1, Y: 1}))
	for i := 0; i < 1000; i++ {
		require.True(t, q.push(Event{Kind: PointerMove, X: i, Y: i}))
	}
	require.True(t, q.push(Event{Kind: PointerUp, X: 999, Y: 999}))
	require.True(t, q.push(Event{Kind: KeyDown, Key: KeyEscape}))

	got := drain(t, q.events(), KeyDown)
	require.LessOrEqual(t, len(got), 5)
	assert.Equal(t, PointerDown, got[0].Kind)
	n := len(got)
	assert.Equal(t, Event{Kind: PointerUp, X: 999, Y: 999}, got[n-2])
	assert.Equal(t, Event{Kind: PointerMove, X: 999, Y: 999}, got[n-3])
}

func TestInputQueueClose(t *testing.T) {
	q := newInputQueue()
	require.True(t, q.push(Event{Kind: PointerMove}))
	q.close()
	q.close()
	assert.False(t, q.push(Event{Kind: PointerUp}))

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-q.events():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
