package errors

import (
	"errors"
	"fmt"
)

// Common error types for the SSO gateway
var (
	// Token exchange errors
	ErrMissingCode          = errors.New("missing authorization code")
	ErrTransientNetwork     = errors.New("transient network error")
	ErrAuthExchangeFailure  = errors.New("authorization code exchange failed")
	ErrInvalidTokenResponse = errors.New("invalid token response")

	// User reconciliation errors, all of which deny access
	ErrUserLookupFailed          = errors.New("user lookup failed")
	ErrUserCreateFailed          = errors.New("user create failed")
	ErrUserUpdateFailed          = errors.New("user update failed")
	ErrMissingConcurrencyToken   = errors.New("missing concurrency token")
	ErrAmbiguousConcurrencyToken = errors.New("ambiguous concurrency token")
	ErrUserValidationFailed      = errors.New("user validation failed")

	// Digest errors
	ErrDigestMismatch         = errors.New("content digest mismatch")
	ErrMissingOrInvalidDigest = errors.New("missing or invalid content digest")
	ErrUpstreamDigestMismatch = errors.New("upstream content digest mismatch")

	// Upstream errors
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// Session errors
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionBackendUnavailable = errors.New("session backend unavailable")
)

// codes maps each sentinel onto the stable identifier written to logs.
var codes = []struct {
	err  error
	code string
}{
	{ErrMissingCode, "MissingCode"},
	{ErrInvalidTokenResponse, "InvalidTokenResponse"},
	{ErrTransientNetwork, "TransientNetworkError"},
	{ErrAuthExchangeFailure, "AuthExchangeFailure"},
	{ErrMissingConcurrencyToken, "MissingConcurrencyToken"},
	{ErrAmbiguousConcurrencyToken, "AmbiguousConcurrencyToken"},
	{ErrUserLookupFailed, "UserLookupFailed"},
	{ErrUserCreateFailed, "UserCreateFailed"},
	{ErrUserUpdateFailed, "UserUpdateFailed"},
	{ErrUserValidationFailed, "UserValidationFailed"},
	{ErrUpstreamDigestMismatch, "UpstreamDigestMismatch"},
	{ErrDigestMismatch, "DigestMismatch"},
	{ErrMissingOrInvalidDigest, "MissingOrInvalidDigest"},
	{ErrUpstreamUnavailable, "UpstreamUnavailable"},
	{ErrSessionNotFound, "SessionNotFound"},
	{ErrSessionBackendUnavailable, "SessionBackendUnavailable"},
}

// Code returns the diagnostic code of the first known sentinel in err's chain.
// More specific causes are listed before the failures that wrap them.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
