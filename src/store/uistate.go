package store

import (
	"context"
	"fmt"
)

// View is the popup view persisted under currentView
type View string

const (
	ViewCapture View = "capture"
	ViewChat    View = "chat"
	ViewHistory View = "history"
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewCapture, ViewChat, ViewHistory:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q", s)
	}
}

// UIState gives typed access to the popup keys of a Store
type UIState struct {
	store Store
}

// NewUIState wraps s.
func NewUIState(s Store) *UIState {
	return &UIState{store: s}
}

// Screenshot returns the latest cropped image data URL.
func (u *UIState) Screenshot(ctx context.Context) (string, bool, error) {
	return u.store.Get(ctx, KeyScreenshot)
}

// SetScreenshot stores a new image and then clears the server id, so a new
// image never inherits the id of the previous one. Readers may briefly see
// the new image with the old id.
func (u *UIState) SetScreenshot(ctx context.Context, image string) error {
	if err := u.store.Set(ctx, KeyScreenshot, image); err != nil {
		return err
	}
	return u.store.Delete(ctx, KeyScreenshotID)
}

// ScreenshotID returns the server id of the current image.
func (u *UIState) ScreenshotID(ctx context.Context) (string, bool, error) {
	return u.store.Get(ctx, KeyScreenshotID)
}

// SetScreenshotID records the server id of the current image.
func (u *UIState) SetScreenshotID(ctx context.Context, id string) error {
	return u.store.Set(ctx, KeyScreenshotID, id)
}

// View returns the persisted view, capture when unset or invalid.
func (u *UIState) View(ctx context.Context) (View, error) {
	raw, ok, err := u.store.Get(ctx, KeyCurrentView)
	if err != nil {
		return ViewCapture, err
	}
	if !ok {
		return ViewCapture, nil
	}
	v, err := ParseView(raw)
	if err != nil {
		return ViewCapture, nil
	}
	return v, nil
}

// SetView persists v.
func (u *UIState) SetView(ctx context.Context, v View) error {
	if _, err := ParseView(string(v)); err != nil {
		return err
	}
	return u.store.Set(ctx, KeyCurrentView, string(v))
}

// ClearScreenshot drops the image and its id and returns to the capture view.
func (u *UIState) ClearScreenshot(ctx context.Context) error {
	if err := u.store.Delete(ctx, KeyScreenshot, KeyScreenshotID); err != nil {
		return err
	}
	return u.SetView(ctx, ViewCapture)
}
