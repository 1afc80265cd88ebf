package token

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc is the clock used for expiry decisions.
var NowTimeFunc = time.Now

// Introspection is the subset of an access token's claims the gateway reads.
// The token was validated by the identity provider at exchange time; the
// gateway only inspects it.
type Introspection struct {
	Active bool       `json:"active"`        // False when expired
	Exp    *time.Time `json:"exp,omitempty"` // Expiration, nil when the token carries none
	Iat    *time.Time `json:"iat,omitempty"` // Issued at time
	Iss    string     `json:"iss,omitempty"` // Issuer of the token
	Sub    string     `json:"sub,omitempty"` // Subject
}

// Claims decodes a JWT's claims without verifying its signature.
func Claims(rawToken string) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.New("empty token")
	}
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Inspect decodes rawToken and reports whether it is still active.
func Inspect(rawToken string) (*Introspection, error) {
	claims, err := Claims(rawToken)
	if err != nil {
		return &Introspection{Active: false}, err
	}

	in := &Introspection{Active: true}
	in.Iss, _ = claims.GetIssuer()
	in.Sub, _ = claims.GetSubject()

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		in.Iat = &t
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return &Introspection{Active: false}, err
	}
	if exp != nil {
		t := exp.Time
		in.Exp = &t
		if !NowTimeFunc().Before(t) {
			in.Active = false
		}
	}
	return in, nil
}

// IsExpired reports whether rawToken should no longer be used. A token that
// cannot be decoded counts as expired; one without an exp claim does not.
func IsExpired(rawToken string) bool {
	in, err := Inspect(rawToken)
	if err != nil {
		return true
	}
	return !in.Active
}

// ExpiresAt returns the token's exp claim. ok is false when there is none or
// the token cannot be decoded.
func ExpiresAt(rawToken string) (exp time.Time, ok bool) {
	in, err := Inspect(rawToken)
	if err != nil || in.Exp == nil {
		return time.Time{}, false
	}
	return *in.Exp, true
}
