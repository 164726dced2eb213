package host

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"askshot/src/screenshot"
)

const inputBinding = "askshotInput"

// ChromeConfig configures the chromedp backed host
type ChromeConfig struct {
	DebugURL string // ws:// or http:// endpoint of a running Chrome; empty launches one
	Headless bool
	Timeout  time.Duration
}

// Chrome drives a real browser over the DevTools protocol. Tab ids are small
// integers assigned the first time a target is seen.
type Chrome struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	timeout     time.Duration

	// listTargets and tabState reach the browser; tests replace them.
	listTargets func(ctx context.Context) ([]*target.Info, error)
	tabState    func(ctx context.Context, tabID int) (tabFocus, error)

	mu       sync.Mutex
	ids      map[target.ID]int
	targets  map[int]target.ID
	tabCtx   map[int]context.Context
	tabStop  []context.CancelFunc
	nextID   int
	injector Injector
}

// NewChrome connects to (or launches) Chrome.
func NewChrome(cfg ChromeConfig) (*Chrome, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.DebugURL != "" {
		log.Printf("Host: connecting to Chrome at %s", cfg.DebugURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.DebugURL)
	} else {
		log.Printf("Host: launching Chrome (headless=%v)", cfg.Headless)
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	c := newChrome(cfg.Timeout)
	c.allocCtx, c.allocCancel = allocCtx, allocCancel
	c.browserCtx, c.cancel = browserCtx, cancel
	c.listTargets = func(context.Context) ([]*target.Info, error) { return chromedp.Targets(c.browserCtx) }
	c.tabState = c.queryFocus
	return c, nil
}

func newChrome(timeout time.Duration) *Chrome {
	return &Chrome{
		timeout:     timeout,
		ids:         make(map[target.ID]int),
		targets:     make(map[int]target.ID),
		tabCtx:      make(map[int]context.Context),
		nextID:      1,
		cancel:      func() {},
		allocCancel: func() {},
	}
}

// Close detaches from the browser.
func (c *Chrome) Close() {
	c.mu.Lock()
	for _, stop := range c.tabStop {
		stop()
	}
	c.tabStop = nil
	c.mu.Unlock()
	c.cancel()
	c.allocCancel()
}

// SetInjector installs the callback used by Inject.
func (c *Chrome) SetInjector(fn Injector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injector = fn
}

// tabFocus is what a page reports about itself.
type tabFocus struct {
	Visible bool `json:"visible"`
	Focused bool `json:"focused"`
}

const focusJS = `({visible: document.visibilityState === 'visible', focused: document.hasFocus()})`

const focusQueryTimeout = 2 * time.Second

// ActiveTab implements Tabs. CDP has no notion of the selected tab, so every
// page is asked: a focused visible page wins, then a visible one, then the
// first page target.
func (c *Chrome) ActiveTab(ctx context.Context) (Tab, error) {
	infos, err := c.listTargets(ctx)
	if err != nil {
		return Tab{}, fmt.Errorf("failed to list targets: %w", err)
	}

	var first, visible *Tab
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tab := Tab{ID: c.tabID(info.TargetID), URL: info.URL, Title: info.Title}
		if first == nil {
			first = &tab
		}
		state, err := c.tabState(ctx, tab.ID)
		if err != nil {
			log.Printf("Host: focus query for tab %d failed: %v", tab.ID, err)
			continue
		}
		if state.Visible && state.Focused {
			return tab, nil
		}
		if state.Visible && visible == nil {
			visible = &tab
		}
	}
	if visible != nil {
		return *visible, nil
	}
	if first != nil {
		return *first, nil
	}
	return Tab{}, ErrNoActiveTab
}

func (c *Chrome) queryFocus(ctx context.Context, tabID int) (tabFocus, error) {
	tctx, err := c.contextFor(tabID)
	if err != nil {
		return tabFocus{}, err
	}
	page := &chromePage{tabCtx: tctx, timeout: focusQueryTimeout}
	var state tabFocus
	if err := page.run(ctx, chromedp.Evaluate(focusJS, &state)); err != nil {
		return tabFocus{}, err
	}
	return state, nil
}

func (c *Chrome) tabID(id target.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.ids[id]; ok {
		return n
	}
	n := c.nextID
	c.nextID++
	c.ids[id] = n
	c.targets[n] = id
	return n
}

func (c *Chrome) contextFor(tabID int) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx, ok := c.tabCtx[tabID]; ok {
		return ctx, nil
	}
	tid, ok := c.targets[tabID]
	if !ok {
		return nil, fmt.Errorf("tab %d: %w", tabID, ErrTabNotFound)
	}
	ctx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(tid))
	c.tabCtx[tabID] = ctx
	c.tabStop = append(c.tabStop, cancel)
	return ctx, nil
}

// Inject implements Tabs.
func (c *Chrome) Inject(ctx context.Context, tabID int) error {
	tab, err := c.lookup(ctx, tabID)
	if err != nil {
		return err
	}
	if IsRestrictedURL(tab.URL) {
		return fmt.Errorf("%s: %w", tab.URL, ErrRestrictedPage)
	}
	tctx, err := c.contextFor(tabID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	injector := c.injector
	c.mu.Unlock()
	if injector == nil {
		return fmt.Errorf("no injector configured")
	}
	return injector(ctx, tab, &chromePage{tabCtx: tctx, timeout: c.timeout})
}

func (c *Chrome) lookup(ctx context.Context, tabID int) (Tab, error) {
	infos, err := c.listTargets(ctx)
	if err != nil {
		return Tab{}, fmt.Errorf("failed to list targets: %w", err)
	}
	for _, info := range infos {
		if info.Type == "page" && c.tabID(info.TargetID) == tabID {
			return Tab{ID: tabID, URL: info.URL, Title: info.Title}, nil
		}
	}
	return Tab{}, fmt.Errorf("tab %d: %w", tabID, ErrTabNotFound)
}

// CaptureVisible implements Capturer with Page.captureScreenshot on tabID,
// or on the active tab when tabID is 0.
func (c *Chrome) CaptureVisible(ctx context.Context, tabID int) ([]byte, error) {
	if tabID == 0 {
		tab, err := c.ActiveTab(ctx)
		if err != nil {
			return nil, err
		}
		tabID = tab.ID
	}
	tctx, err := c.contextFor(tabID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(tctx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture visible tab: %w", err)
	}
	return buf, nil
}

const windowMetricsJS = `({screenX: window.screenX, screenY: window.screenY,
    outerWidth: window.outerWidth, outerHeight: window.outerHeight,
    innerWidth: window.innerWidth, innerHeight: window.innerHeight,
    devicePixelRatio: window.devicePixelRatio})`

// ViewportOnScreen implements ViewportLocator from the page's own window
// geometry.
func (c *Chrome) ViewportOnScreen(ctx context.Context, tabID int) (image.Rectangle, error) {
	if tabID == 0 {
		tab, err := c.ActiveTab(ctx)
		if err != nil {
			return image.Rectangle{}, err
		}
		tabID = tab.ID
	}
	tctx, err := c.contextFor(tabID)
	if err != nil {
		return image.Rectangle{}, err
	}
	page := &chromePage{tabCtx: tctx, timeout: c.timeout}
	var m screenshot.WindowMetrics
	if err := page.run(ctx, chromedp.Evaluate(windowMetricsJS, &m)); err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to read window geometry: %w", err)
	}
	return m.ViewportOnScreen(), nil
}

type chromePage struct {
	tabCtx  context.Context
	timeout time.Duration
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tabCtx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Viewport(ctx context.Context) (image.Point, error) {
	var size []int
	if err := p.run(ctx, chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &size)); err != nil {
		return image.Point{}, fmt.Errorf("failed to read viewport: %w", err)
	}
	if len(size) != 2 {
		return image.Point{}, fmt.Errorf("unexpected viewport result %v", size)
	}
	return image.Pt(size[0], size[1]), nil
}

func (p *chromePage) HasSurface(ctx context.Context, id string) (bool, error) {
	var found bool
	js := fmt.Sprintf(`document.getElementById(%q) !== null`, id)
	if err := p.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("failed to query surface: %w", err)
	}
	return found, nil
}

const attachSurfaceJS = `(function(id, z, binding) {
    const el = document.createElement('img');
    el.id = id;
    el.draggable = false;
    el.style.cssText = 'position:fixed;top:0;left:0;width:100vw;height:100vh;margin:0;padding:0;border:0;cursor:crosshair;user-select:none;z-index:' + z + ';';
    const send = (kind, e) => window[binding](JSON.stringify({id: id, kind: kind, x: Math.round(e.clientX || 0), y: Math.round(e.clientY || 0), key: e.key || ''}));
    el.addEventListener('pointerdown', e => { e.preventDefault(); send('pointerdown', e); });
    el.addEventListener('pointermove', e => send('pointermove', e));
    el.addEventListener('pointerup', e => send('pointerup', e));
    el.__askshotKey = e => send('keydown', e);
    document.addEventListener('keydown', el.__askshotKey, true);
    document.documentElement.appendChild(el);
    return true;
})(%q, %d, %q)`

const removeSurfaceJS = `(function(id) {
    const el = document.getElementById(id);
    if (!el) return false;
    document.removeEventListener('keydown', el.__askshotKey, true);
    el.remove();
    return true;
})(%q)`

type bindingPayload struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Key  string `json:"key"`
}

func (p *chromePage) AttachSurface(ctx context.Context, id string, z int) (Surface, error) {
	size, err := p.Viewport(ctx)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(p.tabCtx)
	s := newChromeSurface(id, size, p.present, cancel)
	chromedp.ListenTarget(listenCtx, s.onEvent)
	go s.paint(listenCtx)

	var ok bool
	err = p.run(ctx,
		runtime.AddBinding(inputBinding),
		chromedp.Evaluate(fmt.Sprintf(attachSurfaceJS, id, z, inputBinding), &ok),
	)
	if err != nil {
		s.input.close()
		cancel()
		return nil, fmt.Errorf("failed to attach surface: %w", err)
	}
	s.page = p
	return s, nil
}

func (p *chromePage) present(id string, frame image.Image) error {
	data, err := screenshot.EncodePNG(frame)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`(function(id, src) { const el = document.getElementById(id); if (el) el.src = src; })(%q, %q)`,
		id, screenshot.EncodeDataURL(data))
	return p.run(context.Background(), chromedp.Evaluate(js, nil))
}

// chromeSurface paints frames on a background goroutine. Present only
// replaces the pending frame, so a slow page skips stale frames instead of
// holding up input handling.
type chromeSurface struct {
	page       *chromePage
	id         string
	size       image.Point
	input      *inputQueue
	draw       func(id string, frame image.Image) error
	stopListen context.CancelFunc

	mu      sync.Mutex
	removed bool
	frame   image.Image
	dirty   chan struct{}
}

func newChromeSurface(id string, size image.Point, draw func(string, image.Image) error, stop context.CancelFunc) *chromeSurface {
	return &chromeSurface{
		id:         id,
		size:       size,
		input:      newInputQueue(),
		draw:       draw,
		stopListen: stop,
		dirty:      make(chan struct{}, 1),
	}
}

func (s *chromeSurface) onEvent(ev interface{}) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != inputBinding {
		return
	}
	var payload bindingPayload
	if err := json.Unmarshal([]byte(called.Payload), &payload); err != nil || payload.ID != s.id {
		return
	}
	kind, ok := eventKinds[payload.Kind]
	if !ok {
		return
	}
	s.input.push(Event{Kind: kind, X: payload.X, Y: payload.Y, Key: payload.Key})
}

var eventKinds = map[string]EventKind{
	"pointerdown": PointerDown,
	"pointermove": PointerMove,
	"pointerup":   PointerUp,
	"keydown":     KeyDown,
}

func (s *chromeSurface) ID() string          { return s.id }
func (s *chromeSurface) Size() image.Point   { return s.size }
func (s *chromeSurface) Input() <-chan Event { return s.input.events() }

func (s *chromeSurface) Present(frame image.Image) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return fmt.Errorf("surface %s is detached", s.id)
	}
	s.frame = frame
	s.mu.Unlock()

	select {
	case s.dirty <- struct{}{}:
	default:
	}
	return nil
}

func (s *chromeSurface) paint(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}
		s.mu.Lock()
		frame := s.frame
		s.frame = nil
		removed := s.removed
		s.mu.Unlock()
		if frame == nil || removed {
			continue
		}
		if err := s.draw(s.id, frame); err != nil {
			log.Printf("Host: surface %s paint failed: %v", s.id, err)
		}
	}
}

func (s *chromeSurface) SetCursor(cursor string) error {
	js := fmt.Sprintf(`(function(id, c) { const el = document.getElementById(id); if (el) el.style.cursor = c; })(%q, %q)`, s.id, cursor)
	return s.page.run(context.Background(), chromedp.Evaluate(js, nil))
}

func (s *chromeSurface) Remove() error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil
	}
	s.removed = true
	s.frame = nil
	s.mu.Unlock()

	s.input.close()
	s.stopListen()
	if s.page == nil {
		return nil
	}
	var removed bool
	if err := s.page.run(context.Background(), chromedp.Evaluate(fmt.Sprintf(removeSurfaceJS, s.id), &removed)); err != nil {
		return fmt.Errorf("failed to remove surface %s: %w", s.id, err)
	}
	return nil
}
