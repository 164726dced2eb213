package host

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log"
	"sort"
	"sync"

	"askshot/src/screenshot"
)

// Runtime is an in-process browser: every tab is a page rendered from a
// content image, and the visible-tab capture composites the active page
// with whatever surfaces are attached to it.
type Runtime struct {
	mu       sync.Mutex
	pages    map[int]*MemoryPage
	order    []int
	active   int
	nextID   int
	injector Injector
}

// NewRuntime creates an empty in-process runtime
func NewRuntime() *Runtime {
	return &Runtime{
		pages:  make(map[int]*MemoryPage),
		nextID: 1,
	}
}

// SetInjector installs the callback used by Inject.
func (rt *Runtime) SetInjector(fn Injector) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.injector = fn
}

// OpenTab adds a tab showing content and makes it active.
func (rt *Runtime) OpenTab(url string, content image.Image) Tab {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	tab := Tab{ID: rt.nextID, URL: url}
	rt.nextID++
	rt.pages[tab.ID] = newMemoryPage(tab, content)
	rt.order = append(rt.order, tab.ID)
	rt.active = tab.ID
	return tab
}

// CloseTab removes a tab and every surface attached to it.
func (rt *Runtime) CloseTab(id int) {
	rt.mu.Lock()
	page, ok := rt.pages[id]
	delete(rt.pages, id)
	for i, v := range rt.order {
		if v == id {
			rt.order = append(rt.order[:i], rt.order[i+1:]...)
			break
		}
	}
	if rt.active == id {
		rt.active = 0
		if n := len(rt.order); n > 0 {
			rt.active = rt.order[n-1]
		}
	}
	rt.mu.Unlock()

	if ok {
		page.removeAll()
	}
}

// Activate switches the active tab.
func (rt *Runtime) Activate(id int) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.pages[id]; !ok {
		return fmt.Errorf("tab %d: %w", id, ErrTabNotFound)
	}
	rt.active = id
	return nil
}

// Page returns the page behind a tab.
func (rt *Runtime) Page(id int) (*MemoryPage, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	p, ok := rt.pages[id]
	return p, ok
}

// ActiveTab implements Tabs.
func (rt *Runtime) ActiveTab(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	page, ok := rt.pages[rt.active]
	if !ok {
		return Tab{}, ErrNoActiveTab
	}
	return page.tab, nil
}

// Inject implements Tabs.
func (rt *Runtime) Inject(ctx context.Context, tabID int) error {
	rt.mu.Lock()
	page, ok := rt.pages[tabID]
	injector := rt.injector
	rt.mu.Unlock()

	if !ok {
		return fmt.Errorf("tab %d: %w", tabID, ErrTabNotFound)
	}
	if IsRestrictedURL(page.tab.URL) {
		return fmt.Errorf("%s: %w", page.tab.URL, ErrRestrictedPage)
	}
	if injector == nil {
		return fmt.Errorf("no injector configured")
	}
	log.Printf("Host: injecting overlay into tab %d (%s)", tabID, page.tab.URL)
	return injector(ctx, page.tab, page)
}

// CaptureVisible implements Capturer. tabID 0 captures the active tab.
func (rt *Runtime) CaptureVisible(ctx context.Context, tabID int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rt.mu.Lock()
	if tabID == 0 {
		tabID = rt.active
	}
	page, ok := rt.pages[tabID]
	rt.mu.Unlock()
	if !ok {
		if tabID == 0 {
			return nil, ErrNoActiveTab
		}
		return nil, fmt.Errorf("tab %d: %w", tabID, ErrTabNotFound)
	}
	return screenshot.EncodePNG(page.Composite())
}

// MemoryPage is a page of the in-process runtime
type MemoryPage struct {
	mu       sync.Mutex
	tab      Tab
	content  image.Image
	surfaces []*memorySurface
}

func newMemoryPage(tab Tab, content image.Image) *MemoryPage {
	return &MemoryPage{tab: tab, content: content}
}

// Viewport implements Page.
func (p *MemoryPage) Viewport(ctx context.Context) (image.Point, error) {
	return p.content.Bounds().Size(), nil
}

// HasSurface implements Page.
func (p *MemoryPage) HasSurface(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(id) != nil, nil
}

// AttachSurface implements Page.
func (p *MemoryPage) AttachSurface(ctx context.Context, id string, z int) (Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.find(id) != nil {
		return nil, fmt.Errorf("%s: %w", id, ErrSurfaceExists)
	}
	size := p.content.Bounds().Size()
	s := &memorySurface{
		page:  p,
		id:    id,
		z:     z,
		size:  size,
		frame: image.NewRGBA(image.Rectangle{Max: size}),
		input: newInputQueue(),
	}
	p.surfaces = append(p.surfaces, s)
	sort.SliceStable(p.surfaces, func(i, j int) bool { return p.surfaces[i].z < p.surfaces[j].z })
	return s, nil
}

// Surfaces lists the ids of attached surfaces, bottom to top.
func (p *MemoryPage) Surfaces() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.surfaces))
	for _, s := range p.surfaces {
		ids = append(ids, s.id)
	}
	return ids
}

// Frame returns a copy of what surface id currently shows.
func (p *MemoryPage) Frame(id string) (*image.RGBA, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(id)
	if s == nil {
		return nil, false
	}
	out := image.NewRGBA(s.frame.Bounds())
	draw.Draw(out, out.Bounds(), s.frame, image.Point{}, draw.Src)
	return out, true
}

// Cursor returns the cursor set on surface id.
func (p *MemoryPage) Cursor(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.find(id); s != nil {
		return s.cursor
	}
	return ""
}

// Dispatch delivers ev to the topmost surface, the way a fixed full-viewport
// layer receives all input. Returns false when nothing is listening.
func (p *MemoryPage) Dispatch(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.surfaces) == 0 {
		return false
	}
	return p.surfaces[len(p.surfaces)-1].input.push(ev)
}

// Composite renders the page content with attached surfaces on top.
func (p *MemoryPage) Composite() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.content.Bounds()
	out := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Draw(out, out.Bounds(), p.content, b.Min, draw.Src)
	for _, s := range p.surfaces {
		draw.Draw(out, out.Bounds(), s.frame, image.Point{}, draw.Over)
	}
	return out
}

func (p *MemoryPage) find(id string) *memorySurface {
	for _, s := range p.surfaces {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (p *MemoryPage) detach(s *memorySurface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range p.surfaces {
		if v == s {
			p.surfaces = append(p.surfaces[:i], p.surfaces[i+1:]...)
			s.input.close()
			return true
		}
	}
	return false
}

func (p *MemoryPage) removeAll() {
	p.mu.Lock()
	surfaces := append([]*memorySurface(nil), p.surfaces...)
	p.mu.Unlock()
	for _, s := range surfaces {
		_ = s.Remove()
	}
}

type memorySurface struct {
	page   *MemoryPage
	id     string
	z      int
	size   image.Point
	frame  *image.RGBA
	cursor string
	input  *inputQueue
}

func (s *memorySurface) ID() string          { return s.id }
func (s *memorySurface) Size() image.Point   { return s.size }
func (s *memorySurface) Input() <-chan Event { return s.input.events() }

func (s *memorySurface) Present(frame image.Image) error {
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	if s.page.find(s.id) != s {
		return fmt.Errorf("surface %s is detached", s.id)
	}
	draw.Draw(s.frame, s.frame.Bounds(), frame, frame.Bounds().Min, draw.Src)
	return nil
}

func (s *memorySurface) SetCursor(cursor string) error {
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	s.cursor = cursor
	return nil
}

func (s *memorySurface) Remove() error {
	s.page.detach(s)
	return nil
}
