package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"
)

// Point is a position in viewport pixels
type Point struct {
	X int
	Y int
}

// Rect is a selection rectangle in viewport pixels. X/Y is always the
// top-left corner and Width/Height are never negative.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// NormalizeRect builds the rectangle spanned by two drag endpoints,
// independent of drag direction.
func NormalizeRect(a, b Point) Rect {
	return Rect{
		X:      min(a.X, b.X),
		Y:      min(a.Y, b.Y),
		Width:  abs(b.X - a.X),
		Height: abs(b.Y - a.Y),
	}
}

// SmallerThan reports whether either dimension is below size.
func (r Rect) SmallerThan(size int) bool {
	return r.Width < size || r.Height < size
}

// Bounds converts the rectangle to an image.Rectangle.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) String() string {
	return fmt.Sprintf("{x:%d y:%d w:%d h:%d}", r.X, r.Y, r.Width, r.Height)
}

// CaptureScreenRect captures r in desktop pixels, which may span displays.
func CaptureScreenRect(r image.Rectangle) (image.Image, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	img, err := screenshot.CaptureRect(r)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen region %v: %w", r, err)
	}
	return img, nil
}

// WindowMetrics is a browser window's geometry as reported by the page, in
// CSS pixels.
type WindowMetrics struct {
	ScreenX          int     `json:"screenX"`
	ScreenY          int     `json:"screenY"`
	OuterWidth       int     `json:"outerWidth"`
	OuterHeight      int     `json:"outerHeight"`
	InnerWidth       int     `json:"innerWidth"`
	InnerHeight      int     `json:"innerHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// ViewportOnScreen locates the page viewport on the desktop in device
// pixels. The window frame is assumed to be an equal border on the left,
// right and bottom with the toolbars on top.
func (m WindowMetrics) ViewportOnScreen() image.Rectangle {
	dpr := m.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	border := max((m.OuterWidth-m.InnerWidth)/2, 0)
	top := max(m.OuterHeight-m.InnerHeight-border, 0)
	x := float64(m.ScreenX + border)
	y := float64(m.ScreenY + top)
	return image.Rect(
		round(x*dpr),
		round(y*dpr),
		round((x+float64(m.InnerWidth))*dpr),
		round((y+float64(m.InnerHeight))*dpr),
	)
}

// GetDisplayBounds returns the bounds of the primary display
func GetDisplayBounds() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	return screenshot.GetDisplayBounds(0), nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
