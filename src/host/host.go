// Package host abstracts the browser the capture pipeline runs against:
// tab lookup, overlay injection, visible-tab capture and the page surface
// the overlay paints on.
package host

import (
	"context"
	"errors"
	"image"
	"strings"
)

var (
	// ErrNoActiveTab is returned when the current window has no active tab.
	ErrNoActiveTab = errors.New("no active tab")
	// ErrRestrictedPage is returned when scripts cannot be injected into a tab.
	ErrRestrictedPage = errors.New("cannot inject into restricted page")
	// ErrTabNotFound is returned for an unknown tab id.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSurfaceExists is returned when attaching a surface id twice.
	ErrSurfaceExists = errors.New("surface already attached")
)

// Tab identifies a browser tab.
type Tab struct {
	ID    int
	URL   string
	Title string
}

// Tabs resolves tabs and injects the overlay into them.
type Tabs interface {
	ActiveTab(ctx context.Context) (Tab, error)
	Inject(ctx context.Context, tabID int) error
}

// Capturer grabs the visible area of a tab as encoded image bytes. tabID 0
// means the active tab.
type Capturer interface {
	CaptureVisible(ctx context.Context, tabID int) ([]byte, error)
}

// Page is the document an overlay runs in.
type Page interface {
	Viewport(ctx context.Context) (image.Point, error)
	HasSurface(ctx context.Context, id string) (bool, error)
	AttachSurface(ctx context.Context, id string, z int) (Surface, error)
}

// Surface is a full-viewport layer fixed above the page content.
type Surface interface {
	ID() string
	Size() image.Point
	// Present replaces the visible contents with frame.
	Present(frame image.Image) error
	SetCursor(cursor string) error
	// Input delivers pointer and key events until the surface is removed.
	Input() <-chan Event
	// Remove detaches the surface and its listeners. Safe to call twice.
	Remove() error
}

// Injector starts the overlay for a tab. Tabs implementations call it from Inject.
type Injector func(ctx context.Context, tab Tab, page Page) error

// EventKind enumerates surface input events
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	PointerUp
	KeyDown
)

func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "pointerdown"
	case PointerMove:
		return "pointermove"
	case PointerUp:
		return "pointerup"
	case KeyDown:
		return "keydown"
	default:
		return "unknown"
	}
}

// Event is a pointer or key event in viewport pixels
type Event struct {
	Kind EventKind
	X    int
	Y    int
	Key  string
}

// KeyEscape is the key name reported for the Escape key
const KeyEscape = "Escape"

var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
	"devtools://",
	"view-source:",
	"https://chrome.google.com/webstore",
	"https://chromewebstore.google.com",
}

// IsRestrictedURL reports whether the browser forbids extension scripts on url.
func IsRestrictedURL(url string) bool {
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
