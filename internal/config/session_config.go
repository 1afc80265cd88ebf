package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	SessionBackendMemory = "memory"
	SessionBackendFile   = "file"
	SessionBackendRedis  = "redis"
)

type SessionConfig interface {
	GetSessionSecret() string
	GetSessionPrefix() string
	GetSessionMaxAge() time.Duration
	GetSessionSameSite() http.SameSite
	GetSessionSecure() bool
	GetSessionDomain() string
	GetSessionBackend() string
	GetRedisURL() string
	GetSessionFileDir() string
	GetSessionExpiryPath() string
	GetUserStatePath() string
}

type Session struct {
	src *source
	env EnvVars
}

var _ SessionConfig = Session{}

func (s Session) GetSessionSecret() string {
	return s.src.get("SESSION_SECRET", "")
}

// GetSessionPrefix is also the session cookie name.
func (s Session) GetSessionPrefix() string {
	return s.src.get("SESSION_PREFIX", "opal-frontend")
}

func (s Session) GetSessionMaxAge() time.Duration {
	return s.src.getMillis("SESSION_MAX_AGE", 12*time.Hour)
}

func (s Session) GetSessionSameSite() http.SameSite {
	switch strings.ToLower(s.src.get("SESSION_SAME_SITE", "lax")) {
	case "strict", "true":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (s Session) GetSessionSecure() bool {
	return s.src.getBool("SESSION_SECURE", !s.env.IsDev())
}

func (s Session) GetSessionDomain() string {
	return s.src.get("SESSION_DOMAIN", "")
}

// GetSessionBackend returns memory, file or redis. REDIS_ENABLED=true selects redis.
func (s Session) GetSessionBackend() string {
	if s.src.getBool("REDIS_ENABLED", false) {
		return SessionBackendRedis
	}
	return strings.ToLower(s.src.get("SESSION_BACKEND", SessionBackendMemory))
}

func (s Session) GetRedisURL() string {
	return s.src.get("REDIS_CONNECTION_STRING", "")
}

func (s Session) GetSessionFileDir() string {
	return s.src.get("SESSION_FILE_DIR", "/tmp/sso-gateway-sessions")
}

func (s Session) GetSessionExpiryPath() string {
	return s.src.get("SESSION_EXPIRY_PATH", "/session/expiry")
}

func (s Session) GetUserStatePath() string {
	return s.src.get("USER_STATE_PATH", "/user/user-state")
}

func (s Session) validate() error {
	if !s.env.IsDev() {
		if err := requireValue("SESSION_SECRET", s.GetSessionSecret()); err != nil {
			return err
		}
	}
	switch s.GetSessionBackend() {
	case SessionBackendMemory, SessionBackendFile:
	case SessionBackendRedis:
		return requireValue("REDIS_CONNECTION_STRING", s.GetRedisURL())
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", s.GetSessionBackend())
	}
	return nil
}
