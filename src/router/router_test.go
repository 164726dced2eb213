package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askshot/src/messages"
)

func newQuietRouter(t *testing.T) *Router {
	t.Helper()
	r := NewRouter()
	r.SetMessageLogging(false)
	t.Cleanup(r.Shutdown)
	return r
}

func TestSendToMissingProcessIsNoListener(t *testing.T) {
	r := newQuietRouter(t)

	err := r.Send(messages.NewEnvelope(messages.ProcessPopup, messages.TabProcess(7), messages.BeginSelection{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoListener))

	_, err = r.Request(context.Background(), messages.ProcessPopup, messages.TabProcess(7), messages.BeginSelection{})
	assert.True(t, errors.Is(err, ErrNoListener))
}

func TestRequestResolvesWithResponse(t *testing.T) {
	r := newQuietRouter(t)
	inbox, err := r.RegisterProcess(messages.ProcessBackground, 4)
	require.NoError(t, err)

	go func() {
		env := <-inbox
		env.Respond(messages.RawCapture{OK: true, Image: []byte("png")})
		// A second response must be ignored.
		env.Respond(messages.RawCapture{OK: false})
		env.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := r.Request(ctx, messages.TabProcess(1), messages.ProcessBackground, messages.RequestRawCapture{})
	require.NoError(t, err)
	raw, ok := reply.(messages.RawCapture)
	require.True(t, ok)
	assert.True(t, raw.OK)
	assert.Equal(t, []byte("png"), raw.Image)
}

func TestRequestFailsWhenHandlerClosesWithoutResponse(t *testing.T) {
	r := newQuietRouter(t)
	inbox, err := r.RegisterProcess(messages.ProcessBackground, 4)
	require.NoError(t, err)

	go func() {
		env := <-inbox
		env.Done()
		assert.False(t, env.Respond(messages.RawCapture{OK: true}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = r.Request(ctx, messages.TabProcess(1), messages.ProcessBackground, messages.RequestRawCapture{})
	assert.True(t, errors.Is(err, ErrChannelClosed))
}

func TestRequestTimesOut(t *testing.T) {
	r := newQuietRouter(t)
	_, err := r.RegisterProcess(messages.ProcessBackground, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Request(ctx, messages.TabProcess(1), messages.ProcessBackground, messages.RequestRawCapture{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRequestHonorsContextWhenInboxIsFull(t *testing.T) {
	r := newQuietRouter(t)
	_, err := r.RegisterProcess(messages.TabProcess(5), 1)
	require.NoError(t, err)
	require.NoError(t, r.Send(messages.NewEnvelope(messages.ProcessPopup, messages.TabProcess(5), messages.CancelSelection{})))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = r.Request(ctx, messages.ProcessPopup, messages.TabProcess(5), messages.BeginSelection{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsHealthyUntilShutdown(t *testing.T) {
	r := NewRouter()
	r.SetMessageLogging(false)
	assert.True(t, r.IsHealthy())
	r.Shutdown()
	assert.False(t, r.IsHealthy())
}

func TestUnregisterClosesQueuedRequests(t *testing.T) {
	r := newQuietRouter(t)
	_, err := r.RegisterProcess(messages.TabProcess(3), 4)
	require.NoError(t, err)

	env := messages.NewRequest(messages.ProcessPopup, messages.TabProcess(3), messages.BeginSelection{})
	require.NoError(t, r.Send(env))

	r.UnregisterProcess(messages.TabProcess(3))

	select {
	case reply := <-env.Replies():
		assert.True(t, reply.Closed)
	case <-time.After(time.Second):
		t.Fatal("queued request was not closed on unregister")
	}
	assert.False(t, r.IsRegistered(messages.TabProcess(3)))
}

func TestBroadcastSkipsSender(t *testing.T) {
	r := newQuietRouter(t)
	bg, err := r.RegisterProcess(messages.ProcessBackground, 4)
	require.NoError(t, err)
	popup, err := r.RegisterProcess(messages.ProcessPopup, 4)
	require.NoError(t, err)

	r.Broadcast(messages.NewEnvelope(messages.ProcessBackground, messages.Broadcast, messages.ScreenshotReady{Image: "data:image/png;base64,AA=="}))

	env, err := WaitForMessage(popup, messages.TypeScreenshotReady, time.Second)
	require.NoError(t, err)
	assert.Equal(t, messages.ProcessPopup, env.To)
	assert.Equal(t, 0, DrainChannel(bg))
}

func TestGetActiveProcessesSorted(t *testing.T) {
	r := newQuietRouter(t)
	for _, name := range []string{messages.ProcessPopup, messages.ProcessBackground, messages.TabProcess(2)} {
		_, err := r.RegisterProcess(name, 1)
		require.NoError(t, err)
	}
	_, err := r.RegisterProcess(messages.ProcessPopup, 1)
	assert.Error(t, err)

	assert.Equal(t, []string{"background", "popup", "tab:2"}, r.GetActiveProcesses())
}
