// Package broker exchanges OAuth2 authorization codes for security tokens.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/retry"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 200 * time.Millisecond
)

// Provider error codes that mean the exchange may succeed if repeated.
var transientProviderCodes = map[string]bool{
	"network_error":           true,
	"temporarily_unavailable": true,
}

// ExchangeResult is what the identity provider returned for a code.
type ExchangeResult struct {
	AccessToken   string
	IDTokenClaims map[string]any
	Expiry        time.Time
}

// CodeExchanger performs a single authorization code exchange.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string, scopes []string) (*ExchangeResult, error)
}

// ProviderError is an error reported by the identity provider.
type ProviderError struct {
	Code          string
	CorrelationID string
	Status        int
	Err           error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error %q (status %d)", e.Code, e.Status)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AuthExchangeError is returned for every failed exchange except a missing code.
// It matches ErrAuthExchangeFailure, and ErrTransientNetwork when retries ran out
// on a transient failure.
type AuthExchangeError struct {
	Code          string // provider error code, or the internal diagnostic code
	CorrelationID string
	Attempts      int
	Transient     bool
	Err           error
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed after %d attempt(s) [%s]: %v", e.Attempts, e.Code, e.Err)
}

func (e *AuthExchangeError) Unwrap() []error {
	errs := []error{apperrors.ErrAuthExchangeFailure, e.Err}
	if e.Transient {
		errs = append(errs, apperrors.ErrTransientNetwork)
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		errs = append(errs, apperrors.ErrUpstreamUnavailable)
	}
	return errs
}

// IsTransient reports whether an exchange failure is worth retrying: connection
// resets, timeouts, and provider codes network_error / temporarily_unavailable.
func IsTransient(err error) bool {
	if errors.Is(err, apperrors.ErrInvalidTokenResponse) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && transientProviderCodes[pe.Code] {
		return true
	}
	return retry.IsTransientNetworkError(err)
}

// Broker turns authorization codes into security tokens.
type Broker struct {
	exchanger      CodeExchanger
	policy         retry.Policy
	attemptTimeout time.Duration
	logger         zerolog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithAttemptTimeout bounds each exchange attempt. Defaults to upstream.DefaultTimeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(b *Broker) { b.attemptTimeout = d }
}

// WithRetryPolicy replaces the default policy of 3 attempts with attempt × 200ms backoff.
func WithRetryPolicy(p retry.Policy) Option {
	return func(b *Broker) { b.policy = p }
}

func New(exchanger CodeExchanger, logger zerolog.Logger, opts ...Option) *Broker {
	b := &Broker{
		exchanger: exchanger,
		policy: retry.Policy{
			MaxAttempts: DefaultMaxAttempts,
			Backoff:     retry.Linear(DefaultBackoffStep),
			IsRetryable: IsTransient,
		},
		attemptTimeout: upstream.DefaultTimeout,
		logger:         logger.With().Str("component", "token_broker").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Exchange trades an authorization code for a SecurityToken.
//
// An empty code fails with ErrMissingCode without calling the provider.
// Transient failures are retried under the broker's policy. A response without
// identity claims or without an access token is ErrInvalidTokenResponse and is
// not retried.
//
// Each attempt is detached from ctx cancellation and bounded by the attempt
// timeout, so a browser that disconnects mid-callback does not abort it. Backoff
// waits still end when ctx is done.
func (b *Broker) Exchange(ctx context.Context, code, redirectURI string, scopes []string) (*sessions.SecurityToken, error) {
	if code == "" {
		return nil, apperrors.ErrMissingCode
	}

	var result *ExchangeResult
	attempts, err := b.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx, cancel := upstream.Detach(ctx, b.attemptTimeout)
		defer cancel()

		res, err := b.exchanger.ExchangeCode(callCtx, code, redirectURI, scopes)
		if err != nil {
			if IsTransient(err) {
				b.logger.Warn().Err(err).Int("attempt", attempt).Msg("transient token exchange failure")
			}
			return err
		}
		if res == nil || len(res.IDTokenClaims) == 0 || res.AccessToken == "" {
			return apperrors.ErrInvalidTokenResponse
		}
		result = res
		return nil
	})
	if err != nil {
		exchangeErr := &AuthExchangeError{
			CorrelationID: upstream.CorrelationID(ctx),
			Attempts:      attempts,
			Transient:     IsTransient(err),
			Err:           err,
		}
		exchangeErr.Code = apperrors.Code(exchangeErr)
		var pe *ProviderError
		if errors.As(err, &pe) {
			if pe.Code != "" {
				exchangeErr.Code = pe.Code
			}
			if pe.CorrelationID != "" {
				exchangeErr.CorrelationID = pe.CorrelationID
			}
		}
		b.logger.Error().
			Str("code", exchangeErr.Code).
			Str("correlation_id", exchangeErr.CorrelationID).
			Int("attempts", attempts).
			Msg("token exchange failed")
		return nil, exchangeErr
	}

	return &sessions.SecurityToken{AccessToken: result.AccessToken}, nil
}
