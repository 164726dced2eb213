package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askshot/src/store"
)

func newManager(t *testing.T) (*Manager, *store.SQLite) {
	t.Helper()
	db, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(db), db
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	s, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	in := &Session{User: &User{Name: "Ada", Email: "ada@example.com"}, AccessToken: "tok", Expires: "2099-01-01T00:00:00Z"}
	require.NoError(t, m.Save(ctx, in))

	out, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	user, err := m.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)
}

func TestCorruptSessionLoadsAsSignedOut(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()
	require.NoError(t, db.Set(ctx, store.KeyAuthSession, "{not json"))

	s, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	ok, err := m.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiryFromFieldOrToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	explicit := &Session{Expires: "2025-12-31T00:00:00Z"}
	assert.True(t, explicit.Expired(now))

	fromToken := &Session{AccessToken: signedToken(t, now.Add(time.Hour))}
	exp, ok := fromToken.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())
	assert.False(t, fromToken.Expired(now))
	assert.True(t, fromToken.Expired(now.Add(2*time.Hour)))

	opaque := &Session{AccessToken: "opaque-token"}
	_, ok = opaque.ExpiresAt()
	assert.False(t, ok)
	assert.False(t, opaque.Expired(now))
}

func TestTokenRequiresLiveSession(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Token(ctx)
	assert.ErrorIs(t, err, ErrNotSignedIn)

	require.NoError(t, m.Save(ctx, &Session{AccessToken: signedToken(t, now.Add(-time.Minute))}))
	_, err = m.Token(ctx)
	assert.ErrorIs(t, err, ErrNotSignedIn)

	live := signedToken(t, now.Add(time.Hour))
	require.NoError(t, m.Save(ctx, &Session{AccessToken: live}))
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, live, tok)

	ok, err := m.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignOutClearsFourKeys(t *testing.T) {
	m, db := newManager(t)
	ctx := context.Background()
	ui := store.NewUIState(db)

	require.NoError(t, m.Save(ctx, &Session{AccessToken: "tok"}))
	require.NoError(t, ui.SetScreenshot(ctx, "data:image/png;base64,AA=="))
	require.NoError(t, ui.SetScreenshotID(ctx, "id-1"))
	require.NoError(t, ui.SetView(ctx, store.ViewChat))
	require.NoError(t, db.Set(ctx, "unrelated", "keep"))

	require.NoError(t, m.SignOut(ctx))

	keys, err := db.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"unrelated"}, keys)
}

func TestParseSession(t *testing.T) {
	s, err := ParseSession(`{"user":{"name":"Bo"},"accessToken":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, "abc", s.AccessToken)
	assert.Equal(t, "Bo", s.User.Name)

	s, err = ParseSession("  raw-token\n")
	require.NoError(t, err)
	assert.Equal(t, "raw-token", s.AccessToken)

	_, err = ParseSession("")
	assert.Error(t, err)
	_, err = ParseSession("{broken")
	assert.Error(t, err)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://askshot.xyz/auth/signin?prompt=select_account&from=extension", SignInURL("https://askshot.xyz/"))
	assert.Contains(t, SignOutURL("https://askshot.xyz"), "/api/auth/signout")
}
