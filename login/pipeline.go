// Package login turns a successful sign-in into a persisted session.
package login

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/token"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog"
)

const DefaultSessionTTL = 12 * time.Hour

// TokenExchanger trades an authorization code for a security token.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, redirectURI string, scopes []string) (*sessions.SecurityToken, error)
}

// UserReconciler decides whether a freshly authenticated user may proceed.
type UserReconciler interface {
	Reconcile(ctx context.Context, accessToken string) error
}

// Config holds the fixed parameters of every exchange.
type Config struct {
	RedirectURI string
	Scopes      []string
	SessionTTL  time.Duration
}

// Pipeline runs exchange, reconciliation and session persistence in order.
// A session is written only when every earlier step succeeded.
type Pipeline struct {
	cfg        Config
	exchanger  TokenExchanger
	reconciler UserReconciler
	store      sessions.Store
	logger     zerolog.Logger

	now   func() time.Time
	newID func() string
}

func New(cfg Config, exchanger TokenExchanger, reconciler UserReconciler, store sessions.Store, logger zerolog.Logger) *Pipeline {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Pipeline{
		cfg:        cfg,
		exchanger:  exchanger,
		reconciler: reconciler,
		store:      store,
		logger:     logger.With().Str("component", "login").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Complete finishes an SSO login. Reconciliation denials are returned wrapped
// in ErrUserValidationFailed. A session already attached to ctx is destroyed
// once the new one has been stored.
func (p *Pipeline) Complete(ctx context.Context, code string) (*sessions.Session, error) {
	tok, err := p.exchanger.Exchange(ctx, code, p.cfg.RedirectURI, p.cfg.Scopes)
	if err != nil {
		return nil, err
	}
	if err := p.reconciler.Reconcile(ctx, tok.AccessToken); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUserValidationFailed, err)
	}
	return p.persist(ctx, tok)
}

// Adopt stores a session for a token minted outside the code exchange.
func (p *Pipeline) Adopt(ctx context.Context, tok *sessions.SecurityToken) (*sessions.Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, apperrors.ErrInvalidTokenResponse
	}
	return p.persist(ctx, tok)
}

func (p *Pipeline) persist(ctx context.Context, tok *sessions.SecurityToken) (*sessions.Session, error) {
	now := p.now()
	sess := &sessions.Session{
		ID:        p.newID(),
		Token:     tok,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.SessionTTL),
	}
	if err := p.store.Set(ctx, sess.ID, sess); err != nil {
		return nil, apperrors.Wrapf(err, "storing session")
	}

	if previous := sessions.FromContext(ctx); previous != nil && previous.ID != sess.ID {
		if err := p.store.Destroy(ctx, previous.ID); err != nil {
			p.logger.Warn().Err(err).Msg("failed to destroy previous session")
		}
	}

	event := p.logger.Info().
		Str("correlation_id", upstream.CorrelationID(ctx)).
		Time("expires_at", sess.ExpiresAt)
	if in, err := token.Inspect(tok.AccessToken); err == nil {
		event = event.Str("subject", in.Sub).Str("issuer", in.Iss)
		if in.Iat != nil {
			event = event.Time("token_issued_at", *in.Iat)
		}
	}
	event.Msg("session established")
	return sess, nil
}

// Logout destroys the session. Unknown ids are not an error.
func (p *Pipeline) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return p.store.Destroy(ctx, id)
}

// Authenticated reports whether sess holds an access token that has not expired.
func Authenticated(sess *sessions.Session) bool {
	raw := sess.AccessToken()
	return raw != "" && !token.IsExpired(raw)
}
