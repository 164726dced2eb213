// Package overlay runs the selection overlay injected into a page. One
// Overlay process exists per tab; it owns at most one capture session.
package overlay

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
	"askshot/src/screenshot"
)

var (
	// ErrCaptureFailed is returned when the raw capture could not be obtained.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrCropFailed is returned when the raw capture could not be cropped.
	ErrCropFailed = errors.New("crop failed")
)

const (
	inboxSize             = 16
	defaultCaptureTimeout = 10 * time.Second
	crosshairCursor       = "crosshair"
)

// Overlay is the page-side process of a tab
type Overlay struct {
	tabID          int
	name           string
	page           host.Page
	captureTimeout time.Duration

	router *router.Router
	inbox  <-chan messages.MessageEnvelope

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	// owned by the run goroutine
	session Session
	surface host.Surface
}

// New creates the overlay for a tab. A zero captureTimeout uses the default.
func New(tabID int, page host.Page, captureTimeout time.Duration) *Overlay {
	if captureTimeout <= 0 {
		captureTimeout = defaultCaptureTimeout
	}
	return &Overlay{
		tabID:          tabID,
		name:           messages.TabProcess(tabID),
		page:           page,
		captureTimeout: captureTimeout,
	}
}

// NewInjector returns a host.Injector that starts an Overlay for the tab.
// Overlays live until parent is cancelled or the tab endpoint is unregistered.
func NewInjector(parent context.Context, r *router.Router, captureTimeout time.Duration) host.Injector {
	return func(ctx context.Context, tab host.Tab, page host.Page) error {
		if r.IsRegistered(messages.TabProcess(tab.ID)) {
			log.Printf("Overlay: tab %d already has an overlay", tab.ID)
			return nil
		}
		return New(tab.ID, page, captureTimeout).Start(parent, r)
	}
}

// Name implements process.Process.
func (o *Overlay) Name() string { return o.name }

// Start registers the tab endpoint and begins handling messages.
func (o *Overlay) Start(ctx context.Context, r *router.Router) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("overlay %s already running", o.name)
	}

	inbox, err := r.RegisterProcess(o.name, inboxSize)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.router = r
	o.inbox = inbox
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	go o.run(runCtx)
	return nil
}

// Stop tears down any active session and unregisters the endpoint.
func (o *Overlay) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
	o.wg.Wait()
	return nil
}

// IsRunning implements process.Process.
func (o *Overlay) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Overlay) run(ctx context.Context) {
	defer func() {
		o.teardown()
		o.router.UnregisterProcess(o.name)
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(o.done)
	}()

	log.Printf("Overlay: %s listening", o.name)
	for {
		var input <-chan host.Event
		if o.surface != nil {
			input = o.surface.Input()
		}

		select {
		case <-ctx.Done():
			return
		case env, ok := <-o.inbox:
			if !ok {
				return
			}
			if !o.handleMessage(ctx, env) {
				return
			}
		case ev, ok := <-input:
			if !ok {
				// Surface removed from under us.
				o.surface = nil
				o.session = Session{}
				continue
			}
			o.handleInput(ctx, ev)
		}
	}
}

func (o *Overlay) handleMessage(ctx context.Context, env messages.MessageEnvelope) bool {
	switch env.Message.(type) {
	case messages.BeginSelection:
		if err := o.begin(ctx, env); err != nil {
			log.Printf("Overlay: %s failed to begin selection: %v", o.name, err)
			env.Done()
		}
	case messages.CancelSelection:
		o.cancelSession("cancel command")
		env.Done()
	case messages.DIENOW:
		env.Done()
		return false
	default:
		log.Printf("Overlay: %s ignoring %s", o.name, env.Message.Type())
		env.Done()
	}
	return true
}

func (o *Overlay) begin(ctx context.Context, env messages.MessageEnvelope) error {
	if o.session.Active() {
		env.Respond(messages.SelectionStarted{AlreadyActive: true})
		return nil
	}
	exists, err := o.page.HasSurface(ctx, SurfaceID)
	if err != nil {
		return err
	}
	if exists {
		env.Respond(messages.SelectionStarted{AlreadyActive: true})
		return nil
	}

	viewport, err := o.page.Viewport(ctx)
	if err != nil {
		return err
	}
	surface, err := o.page.AttachSurface(ctx, SurfaceID, SurfaceZ)
	if err != nil {
		return err
	}
	o.surface = surface
	o.session = Arm(viewport)
	if err := surface.SetCursor(crosshairCursor); err != nil {
		log.Printf("Overlay: %s failed to set cursor: %v", o.name, err)
	}
	o.repaint()

	log.Printf("Overlay: %s armed over %dx%d viewport", o.name, viewport.X, viewport.Y)
	env.Respond(messages.SelectionStarted{})
	return nil
}

func (o *Overlay) handleInput(ctx context.Context, ev host.Event) {
	p := screenshot.Point{X: ev.X, Y: ev.Y}
	switch ev.Kind {
	case host.PointerDown:
		o.session = o.session.PointerDown(p)
	case host.PointerMove:
		if o.session.State != Dragging {
			return
		}
		o.session = o.session.PointerMove(p)
		o.repaint()
	case host.PointerUp:
		if o.session.State != Dragging {
			return
		}
		o.session = o.session.PointerUp(p)
		if o.session.TooSmall {
			log.Printf("Overlay: %s selection %s below %dpx, cancelling", o.name, o.session.Rect, MinSelectionSize)
			o.teardown()
			return
		}
		final := o.session
		// The surface must be gone before the capture is taken.
		o.teardown()
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.finalize(context.WithoutCancel(ctx), final); err != nil {
				log.Printf("Overlay: %s session ended without image: %v", o.name, err)
			}
		}()
	case host.KeyDown:
		if ev.Key == host.KeyEscape {
			o.cancelSession("escape")
		}
	}
}

func (o *Overlay) cancelSession(reason string) {
	if !o.session.Active() {
		return
	}
	o.session = o.session.Cancel()
	log.Printf("Overlay: %s selection cancelled (%s)", o.name, reason)
	o.teardown()
}

// teardown removes the surface and its listeners and resets to Idle.
func (o *Overlay) teardown() {
	if o.surface != nil {
		if err := o.surface.Remove(); err != nil {
			log.Printf("Overlay: %s failed to remove surface: %v", o.name, err)
		}
		o.surface = nil
	}
	o.session = Session{}
}

func (o *Overlay) repaint() {
	if o.surface == nil {
		return
	}
	if err := o.surface.Present(Render(o.session)); err != nil {
		log.Printf("Overlay: %s repaint failed: %v", o.name, err)
	}
}

// finalize requests the raw capture, crops it to the session rectangle and
// hands the result to the background for storage.
func (o *Overlay) finalize(ctx context.Context, s Session) error {
	captureCtx, cancel := context.WithTimeout(ctx, o.captureTimeout)
	defer cancel()

	reply, err := o.router.Request(captureCtx, o.name, messages.ProcessBackground, messages.RequestRawCapture{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	raw, ok := reply.(messages.RawCapture)
	if !ok {
		return fmt.Errorf("%w: unexpected reply %s", ErrCaptureFailed, reply.Type())
	}
	if !raw.OK || len(raw.Image) == 0 {
		return fmt.Errorf("%w: %s", ErrCaptureFailed, raw.Error)
	}

	cropped, err := screenshot.Crop(raw.Image, s.Rect, s.Viewport)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCropFailed, err)
	}

	env := messages.NewEnvelope(o.name, messages.ProcessBackground, messages.DeliverCroppedImage{
		Image: screenshot.EncodeDataURL(cropped),
	})
	if err := o.router.Send(env); err != nil {
		return fmt.Errorf("failed to deliver cropped image: %w", err)
	}
	log.Printf("Overlay: %s delivered %dx%d image", o.name, s.Rect.Width, s.Rect.Height)
	return nil
}
