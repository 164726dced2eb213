package host

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestActiveTabFollowsOpenAndClose(t *testing.T) {
	rt := NewRuntime()
	ctx := context.Background()

	_, err := rt.ActiveTab(ctx)
	assert.ErrorIs(t, err, ErrNoActiveTab)

	first := rt.OpenTab("https://example.com/a", solid(10, 10, color.RGBA{A: 255}))
	second := rt.OpenTab("https://example.com/b", solid(10, 10, color.RGBA{A: 255}))

	tab, err := rt.ActiveTab(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, tab.ID)

	require.NoError(t, rt.Activate(first.ID))
	tab, err = rt.ActiveTab(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, tab.ID)

	rt.CloseTab(first.ID)
	tab, err = rt.ActiveTab(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, tab.ID)

	assert.ErrorIs(t, rt.Activate(99), ErrTabNotFound)
}

func TestInjectRejectsRestrictedPages(t *testing.T) {
	rt := NewRuntime()
	called := 0
	rt.SetInjector(func(ctx context.Context, tab Tab, page Page) error {
		called++
		return nil
	})

	restricted := rt.OpenTab("chrome://settings", solid(10, 10, color.RGBA{A: 255}))
	err := rt.Inject(context.Background(), restricted.ID)
	assert.ErrorIs(t, err, ErrRestrictedPage)
	assert.Equal(t, 0, called)

	normal := rt.OpenTab("https://example.com", solid(10, 10, color.RGBA{A: 255}))
	require.NoError(t, rt.Inject(context.Background(), normal.ID))
	assert.Equal(t, 1, called)

	assert.ErrorIs(t, rt.Inject(context.Background(), 42), ErrTabNotFound)
}

func TestCaptureCompositesAttachedSurfaces(t *testing.T) {
	rt := NewRuntime()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	tab := rt.OpenTab("https://example.com", solid(20, 20, white))
	page, ok := rt.Page(tab.ID)
	require.True(t, ok)
	ctx := context.Background()

	s, err := page.AttachSurface(ctx, "layer", 10)
	require.NoError(t, err)
	_, err = page.AttachSurface(ctx, "layer", 10)
	assert.ErrorIs(t, err, ErrSurfaceExists)

	red := color.RGBA{R: 255, A: 255}
	require.NoError(t, s.Present(solid(20, 20, red)))

	raw, err := rt.CaptureVisible(ctx, 0)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, red, color.RGBAModel.Convert(img.At(5, 5)))

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove())
	has, err := page.HasSurface(ctx, "layer")
	require.NoError(t, err)
	assert.False(t, has)

	raw, err = rt.CaptureVisible(ctx, tab.ID)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, white, color.RGBAModel.Convert(img.At(5, 5)))
}

func TestDispatchReachesTopmostSurface(t *testing.T) {
	rt := NewRuntime()
	tab := rt.OpenTab("https://example.com", solid(20, 20, color.RGBA{A: 255}))
	page, _ := rt.Page(tab.ID)
	ctx := context.Background()

	assert.False(t, page.Dispatch(Event{Kind: PointerDown}))

	low, err := page.AttachSurface(ctx, "low", 1)
	require.NoError(t, err)
	high, err := page.AttachSurface(ctx, "high", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "high"}, page.Surfaces())

	require.True(t, page.Dispatch(Event{Kind: PointerDown, X: 3, Y: 4}))
	ev := <-high.Input()
	assert.Equal(t, Event{Kind: PointerDown, X: 3, Y: 4}, ev)
	assert.Len(t, low.Input(), 0)

	require.NoError(t, high.Remove())
	_, open := <-high.Input()
	assert.False(t, open, "input closes when the surface is removed")
	assert.Error(t, high.Present(solid(20, 20, color.RGBA{})))
}

func TestIsRestrictedURL(t *testing.T) {
	assert.True(t, IsRestrictedURL("chrome://extensions"))
	assert.True(t, IsRestrictedURL("about:blank"))
	assert.True(t, IsRestrictedURL("https://chromewebstore.google.com/detail/x"))
	assert.False(t, IsRestrictedURL("https://example.com"))
}

func TestCaptureVisibleTargetsRequestedTab(t *testing.T) {
	rt := NewRuntime()
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	first := rt.OpenTab("https://example.com/a", solid(10, 10, red))
	rt.OpenTab("https://example.com/b", solid(10, 10, blue))
	ctx := context.Background()

	raw, err := rt.CaptureVisible(ctx, first.ID)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, red, color.RGBAModel.Convert(img.At(1, 1)))

	raw, err = rt.CaptureVisible(ctx, 0)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, blue, color.RGBAModel.Convert(img.At(1, 1)))

	_, err = rt.CaptureVisible(ctx, 77)
	assert.ErrorIs(t, err, ErrTabNotFound)
}
