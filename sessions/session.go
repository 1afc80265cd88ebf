package sessions

import (
	"context"
	"time"

	"github.com/jrsteele09/sso-gateway/users"
)

// SecurityToken is the credential obtained at login. It is replaced wholesale on
// re-login and never modified in place.
type SecurityToken struct {
	AccessToken     string           `json:"access_token"`
	IssuedUserState *users.UserState `json:"issued_user_state,omitempty"`
}

// Session is the server-side state behind a session cookie.
type Session struct {
	ID        string         `json:"id"`
	Token     *SecurityToken `json:"security_token,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// Expired reports whether the session has passed its expiry. A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AccessToken returns the session's access token or "" when it holds none.
func (s *Session) AccessToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// Store persists sessions keyed by id.
type Store interface {
	// Get returns ErrSessionNotFound when the id is unknown or expired.
	Get(ctx context.Context, id string) (*Session, error)
	// Set writes the session with a TTL running until sess.ExpiresAt.
	Set(ctx context.Context, id string, sess *Session) error
	// Destroy removes the session. Unknown ids are not an error.
	Destroy(ctx context.Context, id string) error
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the request's session, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}
