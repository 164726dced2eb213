package host

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askshot/src/screenshot"
)

type fixedLocator struct {
	metrics screenshot.WindowMetrics
	err     error
	tabs    []int
}

func (l *fixedLocator) ViewportOnScreen(ctx context.Context, tabID int) (image.Rectangle, error) {
	l.tabs = append(l.tabs, tabID)
	return l.metrics.ViewportOnScreen(), l.err
}

// desktop encodes the screen position of every pixel in its colour.
func desktop(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8(y / 256), A: 255})
		}
	}
	return img
}

func TestDisplayCropsSelectionAtViewportOffset(t *testing.T) {
	screen := desktop(1920, 1080)
	loc := &fixedLocator{metrics: screenshot.WindowMetrics{
		OuterWidth: 1920, OuterHeight: 1080, InnerWidth: 1920, InnerHeight: 1000, DevicePixelRatio: 1,
	}}
	d := NewDisplay(loc)
	var captured image.Rectangle
	d.capture = func(r image.Rectangle) (image.Image, error) {
		captured = r
		return screen.SubImage(r), nil
	}

	raw, err := d.CaptureVisible(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, loc.tabs)
	assert.Equal(t, image.Rect(0, 80, 1920, 1080), captured)

	sel := screenshot.Rect{X: 100, Y: 100, Width: 200, Height: 150}
	out, err := screenshot.Crop(raw, sel, image.Pt(1920, 1000))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	require.Equal(t, image.Rect(0, 0, 200, 150), img.Bounds())
	assert.Equal(t, screen.RGBAAt(100, 180), color.RGBAModel.Convert(img.At(0, 0)))
	assert.Equal(t, screen.RGBAAt(299, 329), color.RGBAModel.Convert(img.At(199, 149)))
}

func TestDisplayNeedsViewportPosition(t *testing.T) {
	d := NewDisplay(&fixedLocator{err: errors.New("tab closed")})
	d.capture = func(r image.Rectangle) (image.Image, error) {
		t.Fatal("captured without a viewport")
		return nil, nil
	}
	_, err := d.CaptureVisible(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoViewport)

	_, err = NewDisplay(nil).CaptureVisible(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoViewport)

	_, err = NewDisplay(&fixedLocator{}).CaptureVisible(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoViewport)
}
