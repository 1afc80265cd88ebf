package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/sso-gateway/internal/config"
	"github.com/rs/zerolog"
)

// cookieCodec signs session ids so a browser cannot pick its own.
// The cookie value is {id}.{base64url(HMAC-SHA256(secret, id))}.
type cookieCodec struct {
	name     string
	secret   []byte
	maxAge   time.Duration
	sameSite http.SameSite
	secure   bool
	domain   string
}

func newCookieCodec(cfg config.Config, logger zerolog.Logger) (*cookieCodec, error) {
	secret := []byte(cfg.GetSessionSecret())
	if len(secret) == 0 {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("SESSION_SECRET is required outside DEV")
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		logger.Warn().Msg("SESSION_SECRET not set, using a random secret; sessions will not survive a restart")
	}
	return &cookieCodec{
		name:     cfg.GetSessionPrefix(),
		secret:   secret,
		maxAge:   cfg.GetSessionMaxAge(),
		sameSite: cfg.GetSessionSameSite(),
		secure:   cfg.GetSessionSecure(),
		domain:   cfg.GetSessionDomain(),
	}, nil
}

func (c *cookieCodec) sign(id string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// sessionID returns the verified session id carried by r, or "".
func (c *cookieCodec) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	id, _, ok := strings.Cut(cookie.Value, ".")
	if !ok || id == "" {
		return ""
	}
	if !hmac.Equal([]byte(c.sign(id)), []byte(cookie.Value)) {
		return ""
	}
	return id
}

func (c *cookieCodec) set(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    c.sign(id),
		Path:     "/",
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite,
		MaxAge:   int(c.maxAge.Seconds()),
	})
}

func (c *cookieCodec) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite,
		MaxAge:   -1,
	})
}
