package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askshot/src/host"
	"askshot/src/messages"
	"askshot/src/router"
)

// fakeTabs counts injections; onInject decides what an injection does.
type fakeTabs struct {
	mu       sync.Mutex
	tab      *host.Tab
	injected int
	onInject func(tabID int) error
}

func (f *fakeTabs) ActiveTab(ctx context.Context) (host.Tab, error) {
	if f.tab == nil {
		return host.Tab{}, host.ErrNoActiveTab
	}
	return *f.tab, nil
}

func (f *fakeTabs) Inject(ctx context.Context, tabID int) error {
	f.mu.Lock()
	f.injected++
	f.mu.Unlock()
	if f.onInject != nil {
		return f.onInject(tabID)
	}
	return nil
}

func (f *fakeTabs) Injections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected
}

// ackingOverlay registers a tab endpoint that acknowledges begin-selection.
func ackingOverlay(t *testing.T, r *router.Router, tabID int) {
	t.Helper()
	inbox, err := r.RegisterProcess(messages.TabProcess(tabID), 4)
	require.NoError(t, err)
	go func() {
		for env := range inbox {
			if _, ok := env.Message.(messages.BeginSelection); ok {
				env.Respond(messages.SelectionStarted{})
			}
			env.Done()
		}
	}()
}

func newRouter(t *testing.T) *router.Router {
	t.Helper()
	r := router.NewRouter()
	r.SetMessageLogging(false)
	t.Cleanup(r.Shutdown)
	return r
}

func TestDirectDeliveryClosesPopupWithoutInjecting(t *testing.T) {
	r := newRouter(t)
	ackingOverlay(t, r, 7)
	tabs := &fakeTabs{tab: &host.Tab{ID: 7, URL: "https://example.com"}}

	closed := 0
	c := New(tabs, r, messages.ProcessPopup, Options{OnDelivered: func() { closed++ }})

	require.NoError(t, c.Trigger(context.Background()))
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, tabs.Injections())
}

func TestMissingListenerInjectsThenRetriesOnce(t *testing.T) {
	r := newRouter(t)
	tabs := &fakeTabs{tab: &host.Tab{ID: 3, URL: "https://example.com"}}
	tabs.onInject = func(tabID int) error {
		ackingOverlay(t, r, tabID)
		return nil
	}

	closed := 0
	c := New(tabs, r, messages.ProcessPopup, Options{
		InjectRetryDelay: 10 * time.Millisecond,
		OnDelivered:      func() { closed++ },
	})

	start := time.Now()
	require.NoError(t, c.Trigger(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 1, tabs.Injections())
	assert.Equal(t, 1, closed)
}

func TestRetryFailureLeavesPopupOpen(t *testing.T) {
	r := newRouter(t)
	// Injection "succeeds" but nothing ever registers.
	tabs := &fakeTabs{tab: &host.Tab{ID: 3, URL: "https://example.com"}}

	closed := 0
	c := New(tabs, r, messages.ProcessPopup, Options{
		InjectRetryDelay: time.Millisecond,
		OnDelivered:      func() { closed++ },
	})

	err := c.Trigger(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryDeliveryFailed)
	assert.Equal(t, 1, tabs.Injections(), "exactly one injection per trigger")
	assert.Equal(t, 0, closed)
}

func TestInjectionFailure(t *testing.T) {
	r := newRouter(t)
	tabs := &fakeTabs{tab: &host.Tab{ID: 1, URL: "chrome://settings"}}
	tabs.onInject = func(int) error { return host.ErrRestrictedPage }

	c := New(tabs, r, messages.ProcessPopup, Options{InjectRetryDelay: time.Millisecond})
	err := c.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrInjectionFailed)
	assert.False(t, errors.Is(err, ErrRetryDeliveryFailed))
	assert.Equal(t, 1, tabs.Injections())
}

func TestNoActiveTab(t *testing.T) {
	r := newRouter(t)
	tabs := &fakeTabs{}
	c := New(tabs, r, messages.ProcessPopup, Options{})

	err := c.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveTab)
	assert.Equal(t, 0, tabs.Injections())
}

func TestCancelledDuringRetryDelay(t *testing.T) {
	r := newRouter(t)
	tabs := &fakeTabs{tab: &host.Tab{ID: 2, URL: "https://example.com"}}
	ctx, cancel := context.WithCancel(context.Background())
	tabs.onInject = func(int) error {
		cancel()
		return nil
	}

	c := New(tabs, r, messages.ProcessPopup, Options{InjectRetryDelay: time.Second})
	err := c.Trigger(ctx)
	assert.ErrorIs(t, err, ErrRetryDeliveryFailed)
}
