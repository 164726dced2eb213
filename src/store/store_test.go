package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v1"))
	require.NoError(t, s.Set(ctx, "k", "v2"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.Delete(ctx, "k", "never-set"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenFileRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "askshot.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyCurrentView, "chat"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(ctx, KeyCurrentView)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chat", v)
}

func TestSetScreenshotClearsID(t *testing.T) {
	s := openMemory(t)
	ui := NewUIState(s)
	ctx := context.Background()

	require.NoError(t, ui.SetScreenshot(ctx, "data:image/png;base64,AAA="))
	require.NoError(t, ui.SetScreenshotID(ctx, "srv-1"))

	require.NoError(t, ui.SetScreenshot(ctx, "data:image/png;base64,BBB="))
	img, ok, err := ui.Screenshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "data:image/png;base64,BBB=", img)

	_, ok, err = ui.ScreenshotID(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "new image must not inherit the old server id")
}

func TestCoreWritesLeaveAuthSessionAlone(t *testing.T) {
	s := openMemory(t)
	ui := NewUIState(s)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyAuthSession, `{"accessToken":"t"}`))
	require.NoError(t, ui.SetScreenshot(ctx, "data:image/png;base64,AAA="))
	require.NoError(t, ui.SetScreenshotID(ctx, "id"))
	require.NoError(t, ui.SetView(ctx, ViewChat))
	require.NoError(t, ui.ClearScreenshot(ctx))

	v, ok, err := s.Get(ctx, KeyAuthSession)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"accessToken":"t"}`, v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyAuthSession, KeyCurrentView}, keys)
}

func TestViews(t *testing.T) {
	s := openMemory(t)
	ui := NewUIState(s)
	ctx := context.Background()

	v, err := ui.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, ViewCapture, v)

	require.NoError(t, ui.SetView(ctx, ViewHistory))
	v, err = ui.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, ViewHistory, v)

	assert.Error(t, ui.SetView(ctx, View("settings")))

	require.NoError(t, s.Set(ctx, KeyCurrentView, "bogus"))
	v, err = ui.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, ViewCapture, v)

	_, err = ParseView("chat")
	assert.NoError(t, err)
}
