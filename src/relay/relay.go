// Package relay is the background process: the only holder of the capture
// primitive, and the writer of new screenshots to the store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"askshot/src/host"
	"askshot/src/messages"
	"askshot/src/router"
	"askshot/src/store"
)

const (
	inboxSize             = 32
	defaultCaptureTimeout = 10 * time.Second
)

var errEmptyCapture = errors.New("capture returned no data")

// Relay handles capture and delivery requests from overlays
type Relay struct {
	capturer       host.Capturer
	ui             *store.UIState
	captureTimeout time.Duration

	router *router.Router
	inbox  <-chan messages.MessageEnvelope

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates the background relay. A zero captureTimeout uses the default.
func New(capturer host.Capturer, ui *store.UIState, captureTimeout time.Duration) *Relay {
	if captureTimeout <= 0 {
		captureTimeout = defaultCaptureTimeout
	}
	return &Relay{capturer: capturer, ui: ui, captureTimeout: captureTimeout}
}

// Name implements process.Process.
func (r *Relay) Name() string { return messages.ProcessBackground }

// Start registers the background endpoint and begins serving.
func (r *Relay) Start(ctx context.Context, rt *router.Router) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("relay already running")
	}
	inbox, err := rt.RegisterProcess(r.Name(), inboxSize)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.router = rt
	r.inbox = inbox
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(runCtx)
	return nil
}

// Stop unregisters the endpoint and waits for the loop to exit.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning implements process.Process.
func (r *Relay) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Relay) run(ctx context.Context) {
	defer func() {
		r.router.UnregisterProcess(r.Name())
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.done)
	}()

	log.Printf("Relay: listening")
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-r.inbox:
			if !ok {
				return
			}
			if _, die := env.Message.(messages.DIENOW); die {
				env.Done()
				return
			}
			r.dispatch(ctx, env)
		}
	}
}

// dispatch runs one handler. A failing handler never stops the loop and
// every request is resolved when it returns.
func (r *Relay) dispatch(ctx context.Context, env messages.MessageEnvelope) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("Relay: handler for %s panicked: %v", env.Message.Type(), p)
		}
		env.Done()
	}()

	switch msg := env.Message.(type) {
	case messages.RequestRawCapture:
		r.handleCapture(ctx, env)
	case messages.DeliverCroppedImage:
		if err := r.handleDeliver(ctx, msg); err != nil {
			log.Printf("Relay: delivery from %s dropped: %v", env.From, err)
		}
	default:
		log.Printf("Relay: ignoring %s from %s", env.Message.Type(), env.From)
	}
}

// handleCapture captures the tab whose overlay asked, so the raw image is
// always of the page the selection was drawn on.
func (r *Relay) handleCapture(ctx context.Context, env messages.MessageEnvelope) {
	tabID, ok := messages.TabFromProcess(env.From)
	if !ok {
		log.Printf("Relay: capture request from %s is not from a tab, using the active tab", env.From)
	}
	img, err := r.capture(ctx, tabID)
	if err != nil {
		log.Printf("Relay: capture for %s failed: %v", env.From, err)
		env.Respond(messages.RawCapture{OK: false, Error: err.Error()})
		return
	}
	env.Respond(messages.RawCapture{OK: true, Image: img})
}

func (r *Relay) capture(ctx context.Context, tabID int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.captureTimeout)
	defer cancel()

	img, err := r.capturer.CaptureVisible(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, errEmptyCapture
	}
	return img, nil
}

// handleDeliver persists the image and only then tells listeners about it.
func (r *Relay) handleDeliver(ctx context.Context, msg messages.DeliverCroppedImage) error {
	if msg.Image == "" {
		return fmt.Errorf("empty image")
	}
	if err := r.ui.SetScreenshot(ctx, msg.Image); err != nil {
		return fmt.Errorf("failed to persist screenshot: %w", err)
	}
	r.router.Broadcast(messages.NewEnvelope(r.Name(), messages.Broadcast, messages.ScreenshotReady{Image: msg.Image}))
	log.Printf("Relay: screenshot stored and broadcast (%d bytes)", len(msg.Image))
	return nil
}
