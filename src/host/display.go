package host

import (
	"context"
	"errors"
	"fmt"
	"image"

	"askshot/src/screenshot"
)

// ErrNoViewport is returned when the page viewport cannot be placed on screen.
var ErrNoViewport = errors.New("viewport position unknown")

// ViewportLocator reports where a tab's viewport sits on the desktop, in
// device pixels. tabID 0 means the active tab.
type ViewportLocator interface {
	ViewportOnScreen(ctx context.Context, tabID int) (image.Rectangle, error)
}

// Display captures the desktop pixels under a tab's viewport instead of
// asking the browser, so the result matches what the user sees on screen.
type Display struct {
	locator ViewportLocator
	capture func(image.Rectangle) (image.Image, error)
}

// NewDisplay creates a desktop capturer for tabs placed by locator.
func NewDisplay(locator ViewportLocator) *Display {
	return &Display{locator: locator, capture: screenshot.CaptureScreenRect}
}

// CaptureVisible implements Capturer.
func (d *Display) CaptureVisible(ctx context.Context, tabID int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.locator == nil {
		return nil, ErrNoViewport
	}
	r, err := d.locator.ViewportOnScreen(ctx, tabID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoViewport, err)
	}
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty viewport %v", ErrNoViewport, r)
	}
	img, err := d.capture(r)
	if err != nil {
		return nil, err
	}
	return screenshot.EncodePNG(img)
}
