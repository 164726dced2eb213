package overlay

import (
	"image"
	"math"

	"askshot/src/screenshot"
)

const (
	// MinSelectionSize is the smallest width and height a selection may have.
	// Anything smaller is treated as a cancellation.
	MinSelectionSize = 10
	// SurfaceID identifies the overlay surface in the page.
	SurfaceID = "askshot-capture-canvas"
	// SurfaceZ puts the overlay above any page content.
	SurfaceZ = math.MaxInt32
)

// State of a capture session
type State int

const (
	Idle State = iota
	Armed
	Dragging
	Finalizing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case Finalizing:
		return "finalizing"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Session is the state of one selection gesture. Transitions return a new
// value and never mutate the receiver.
type Session struct {
	State    State
	Anchor   screenshot.Point
	Rect     screenshot.Rect
	Viewport image.Point // surface size when the session was armed
	TooSmall bool        // set when a drag ended below MinSelectionSize
}

// Arm starts a session over a viewport of the given size.
func Arm(viewport image.Point) Session {
	return Session{State: Armed, Viewport: viewport}
}

// Active reports whether the session still owns the surface.
func (s Session) Active() bool {
	return s.State == Armed || s.State == Dragging
}

// PointerDown anchors the drag. Ignored unless armed.
func (s Session) PointerDown(p screenshot.Point) Session {
	if s.State != Armed {
		return s
	}
	p = s.clamp(p)
	s.State = Dragging
	s.Anchor = p
	s.Rect = screenshot.Rect{X: p.X, Y: p.Y}
	return s
}

// PointerMove recomputes the rectangle while dragging.
func (s Session) PointerMove(p screenshot.Point) Session {
	if s.State != Dragging {
		return s
	}
	s.Rect = screenshot.NormalizeRect(s.Anchor, s.clamp(p))
	return s
}

// PointerUp ends the drag: Finalizing with the final rectangle, or Cancelled
// when it is smaller than MinSelectionSize in either dimension.
func (s Session) PointerUp(p screenshot.Point) Session {
	if s.State != Dragging {
		return s
	}
	s.Rect = screenshot.NormalizeRect(s.Anchor, s.clamp(p))
	if s.Rect.SmallerThan(MinSelectionSize) {
		s.State = Cancelled
		s.TooSmall = true
		return s
	}
	s.State = Finalizing
	return s
}

// Cancel aborts an active session and discards the rectangle.
func (s Session) Cancel() Session {
	if !s.Active() {
		return s
	}
	return Session{State: Cancelled, Viewport: s.Viewport}
}

func (s Session) clamp(p screenshot.Point) screenshot.Point {
	if s.Viewport.X > 0 {
		p.X = min(max(p.X, 0), s.Viewport.X)
	}
	if s.Viewport.Y > 0 {
		p.Y = min(max(p.Y, 0), s.Viewport.Y)
	}
	return p
}
