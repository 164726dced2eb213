package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
)

const (
	dimAlpha    = 0.3
	accentColor = "#00f"
	strokeWidth = 2
)

// Render paints a full overlay frame for s: the whole viewport dimmed, the
// selection rectangle cleared and outlined. Every call starts from an empty
// surface.
func Render(s Session) image.Image {
	w, h := s.Viewport.X, s.Viewport.Y
	dc := gg.NewContext(w, h)

	dc.SetColor(color.Transparent)
	dc.Clear()

	dc.SetRGBA(0, 0, 0, dimAlpha)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	if s.State != Dragging || s.Rect.Width == 0 || s.Rect.Height == 0 {
		return dc.Image()
	}

	r := s.Rect
	if im, ok := dc.Image().(*image.RGBA); ok {
		draw.Draw(im, r.Bounds(), image.Transparent, image.Point{}, draw.Src)
	}

	dc.SetHexColor(accentColor)
	dc.SetLineWidth(strokeWidth)
	dc.DrawRectangle(float64(r.X), float64(r.Y), float64(r.Width), float64(r.Height))
	dc.Stroke()
	return dc.Image()
}
