package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askshot/src/messages"
	"askshot/src/router"
	"askshot/src/store"
)

type fakeCapturer struct {
	img   []byte
	err   error
	block bool
	panic bool
	calls int
	tabs  []int
	mu    sync.Mutex
}

func (f *fakeCapturer) CaptureVisible(ctx context.Context, tabID int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.tabs = append(f.tabs, tabID)
	img, err, block, explode := f.img, f.err, f.block, f.panic
	f.mu.Unlock()
	if explode {
		panic("capture exploded")
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return img, err
}

// recordingStore logs every write so ordering can be asserted.
type recordingStore struct {
	store.Store
	mu     sync.Mutex
	ops    []string
	failOn string
}

func (s *recordingStore) Set(ctx context.Context, key, value string) error {
	if key == s.failOn {
		return errors.New("disk full")
	}
	s.record("set " + key)
	return s.Store.Set(ctx, key, value)
}

func (s *recordingStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		s.record("delete " + k)
	}
	return s.Store.Delete(ctx, keys...)
}

func (s *recordingStore) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *recordingStore) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

type fixture struct {
	router *router.Router
	store  *recordingStore
	cap    *fakeCapturer
	relay  *Relay
}

func newFixture(t *testing.T, capturer *fakeCapturer) *fixture {
	t.Helper()
	db, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := router.NewRouter()
	r.SetMessageLogging(false)
	t.Cleanup(r.Shutdown)

	rec := &recordingStore{Store: db}
	rl := New(capturer, store.NewUIState(rec), 100*time.Millisecond)
	require.NoError(t, rl.Start(context.Background(), r))
	t.Cleanup(func() { _ = rl.Stop() })

	return &fixture{router: r, store: rec, cap: capturer, relay: rl}
}

func (f *fixture) requestCapture(t *testing.T) (messages.RawCapture, error) {
	t.Helper()
	return f.requestCaptureFrom(t, messages.TabProcess(1))
}

func (f *fixture) requestCaptureFrom(t *testing.T, from string) (messages.RawCapture, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := f.router.Request(ctx, from, messages.ProcessBackground, messages.RequestRawCapture{})
	if err != nil {
		return messages.RawCapture{}, err
	}
	return reply.(messages.RawCapture), nil
}

func TestCaptureRespondsWithImage(t *testing.T) {
	f := newFixture(t, &fakeCapturer{img: []byte("png-bytes")})

	raw, err := f.requestCapture(t)
	require.NoError(t, err)
	assert.True(t, raw.OK)
	assert.Equal(t, []byte("png-bytes"), raw.Image)
	assert.Equal(t, 1, f.cap.calls)
}

func TestCaptureTargetsRequestingTab(t *testing.T) {
	capturer := &fakeCapturer{img: []byte("png-bytes")}
	f := newFixture(t, capturer)

	_, err := f.requestCaptureFrom(t, messages.TabProcess(4))
	require.NoError(t, err)
	_, err = f.requestCaptureFrom(t, messages.ProcessCLI)
	require.NoError(t, err)

	capturer.mu.Lock()
	defer capturer.mu.Unlock()
	assert.Equal(t, []int{4, 0}, capturer.tabs)
}

func TestCaptureFailuresRespondNotOK(t *testing.T) {
	tests := []struct {
		name string
		cap  *fakeCapturer
	}{
		{"host error", &fakeCapturer{err: errors.New("permission denied")}},
		{"no data", &fakeCapturer{}},
		{"timeout", &fakeCapturer{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cap)
			raw, err := f.requestCapture(t)
			require.NoError(t, err)
			assert.False(t, raw.OK)
			assert.NotEmpty(t, raw.Error)
		})
	}
}

func TestPanickingHandlerKeepsRelayAlive(t *testing.T) {
	capturer := &fakeCapturer{panic: true}
	f := newFixture(t, capturer)

	_, err := f.requestCapture(t)
	assert.ErrorIs(t, err, router.ErrChannelClosed)

	capturer.mu.Lock()
	capturer.panic = false
	capturer.img = []byte("ok")
	capturer.mu.Unlock()

	raw, err := f.requestCapture(t)
	require.NoError(t, err)
	assert.True(t, raw.OK)
}

func TestDeliverPersistsBeforeBroadcast(t *testing.T) {
	f := newFixture(t, &fakeCapturer{})
	ctx := context.Background()
	ui := store.NewUIState(f.store.Store)
	require.NoError(t, ui.SetScreenshotID(ctx, "old-id"))

	popup, err := f.router.RegisterProcess(messages.ProcessPopup, 4)
	require.NoError(t, err)

	const img = "data:image/png;base64,iVBORw=="
	require.NoError(t, f.router.Send(messages.NewEnvelope(messages.TabProcess(1), messages.ProcessBackground, messages.DeliverCroppedImage{Image: img})))

	env, err := router.WaitForMessage(popup, messages.TypeScreenshotReady, time.Second)
	require.NoError(t, err)
	assert.Equal(t, img, env.Message.(messages.ScreenshotReady).Image)

	// Whatever the listener reads now is already the new image.
	stored, ok, err := ui.Screenshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, img, stored)
	_, ok, err = ui.ScreenshotID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"set screenshot", "delete screenshotId"}, f.store.Ops())
}

func TestPersistFailureSkipsBroadcast(t *testing.T) {
	f := newFixture(t, &fakeCapturer{})
	f.store.failOn = store.KeyScreenshot

	popup, err := f.router.RegisterProcess(messages.ProcessPopup, 4)
	require.NoError(t, err)

	require.NoError(t, f.router.Send(messages.NewEnvelope(messages.TabProcess(1), messages.ProcessBackground, messages.DeliverCroppedImage{Image: "data:image/png;base64,AA=="})))

	assert.Never(t, func() bool { return len(popup) > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.True(t, f.relay.IsRunning())
}
