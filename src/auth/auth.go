// Package auth keeps the signed-in session in the shared store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"askshot/src/store"
)

// ErrNotSignedIn is returned when no usable session is stored.
var ErrNotSignedIn = errors.New("not signed in")

// User is the profile attached to a session
type User struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Session is what the sign-in page hands back to the extension
type Session struct {
	User        *User  `json:"user,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Expires     string `json:"expires,omitempty"`
}

// ExpiresAt returns when the session stops being valid: the Expires field
// when set, otherwise the exp claim of the access token. The token signature
// is not checked here, the backend does that.
func (s *Session) ExpiresAt() (time.Time, bool) {
	if s.Expires != "" {
		if t, err := time.Parse(time.RFC3339, s.Expires); err == nil {
			return t, true
		}
	}
	if s.AccessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the session is past its expiry at now. Sessions
// without a known expiry never expire locally.
func (s *Session) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && !now.Before(exp)
}

// Manager loads and stores the session
type Manager struct {
	store store.Store
	now   func() time.Time
}

// NewManager creates a session manager backed by s.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, now: time.Now}
}

// Load returns the stored session, or nil when there is none or it is unreadable.
func (m *Manager) Load(ctx context.Context) (*Session, error) {
	raw, ok, err := m.store.Get(ctx, store.KeyAuthSession)
	if err != nil || !ok {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		log.Printf("Auth: failed to parse stored session: %v", err)
		return nil, nil
	}
	return &s, nil
}

// Save stores s as JSON.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("nil session")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return m.store.Set(ctx, store.KeyAuthSession, string(data))
}

// ParseSession decodes a session from the JSON the sign-in page posts.
// A bare access token is accepted as well.
func ParseSession(input string) (*Session, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty session")
	}
	if !strings.HasPrefix(input, "{") {
		return &Session{AccessToken: input}, nil
	}
	var s Session
	if err := json.Unmarshal([]byte(input), &s); err != nil {
		return nil, fmt.Errorf("invalid session JSON: %w", err)
	}
	return &s, nil
}

// IsAuthenticated reports whether a non-expired session is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) (bool, error) {
	s, err := m.Load(ctx)
	if err != nil || s == nil {
		return false, err
	}
	return !s.Expired(m.now()), nil
}

// Token implements api.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	s, err := m.Load(ctx)
	if err != nil {
		return "", err
	}
	if s == nil || s.AccessToken == "" || s.Expired(m.now()) {
		return "", ErrNotSignedIn
	}
	return s.AccessToken, nil
}

// CurrentUser returns the signed-in user, if any.
func (m *Manager) CurrentUser(ctx context.Context) (*User, error) {
	s, err := m.Load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	return s.User, nil
}

// SignOut drops the session together with the screenshot state it owned.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.store.Delete(ctx,
		store.KeyAuthSession,
		store.KeyScreenshot,
		store.KeyScreenshotID,
		store.KeyCurrentView,
	)
}

// SignInURL is the page that issues sessions to the extension.
func SignInURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/auth/signin?prompt=select_account&from=extension"
}

// SignOutURL ends the server side session.
func SignOutURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/auth/signout?callbackUrl=/auth/signin?prompt=select_account"
}
