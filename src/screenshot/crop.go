package screenshot

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Crop decodes a raw full-viewport capture, cuts out r and returns it as PNG.
// viewport is the size of the page in viewport pixels when the selection was
// drawn; it maps r into image pixels when the capture was taken at a different
// device scale. A zero viewport means 1:1.
func Crop(raw []byte, r Rect, viewport image.Point) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	dst, err := CropImage(src, r, viewport)
	if err != nil {
		return nil, err
	}
	return EncodePNG(dst)
}

// CropImage returns an image of exactly r.Width x r.Height. Parts of r that
// fall outside src stay transparent instead of failing the crop.
func CropImage(src image.Image, r Rect, viewport image.Point) (*image.RGBA, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("invalid crop dimensions: width=%d, height=%d", r.Width, r.Height)
	}

	sb := src.Bounds()
	scaleX, scaleY := 1.0, 1.0
	if viewport.X > 0 && viewport.Y > 0 {
		scaleX = float64(sb.Dx()) / float64(viewport.X)
		scaleY = float64(sb.Dy()) / float64(viewport.Y)
	}

	want := image.Rect(
		sb.Min.X+round(float64(r.X)*scaleX),
		sb.Min.Y+round(float64(r.Y)*scaleY),
		sb.Min.X+round(float64(r.X+r.Width)*scaleX),
		sb.Min.Y+round(float64(r.Y+r.Height)*scaleY),
	)

	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	clipped := want.Intersect(sb)
	if clipped.Empty() {
		return dst, nil
	}

	if want.Dx() == r.Width && want.Dy() == r.Height {
		xdraw.Copy(dst, clipped.Min.Sub(want.Min), src, clipped, xdraw.Src, nil)
		return dst, nil
	}

	// Map the clipped source back into destination space.
	target := image.Rect(
		round(float64(clipped.Min.X-want.Min.X)/scaleX),
		round(float64(clipped.Min.Y-want.Min.Y)/scaleY),
		round(float64(clipped.Max.X-want.Min.X)/scaleX),
		round(float64(clipped.Max.Y-want.Min.Y)/scaleY),
	).Intersect(dst.Bounds())
	if target.Empty() {
		return dst, nil
	}
	xdraw.CatmullRom.Scale(dst, target, src, clipped, xdraw.Src, nil)
	return dst, nil
}

func round(v float64) int {
	return int(math.Round(v))
}
