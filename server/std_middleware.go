package server

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog/hlog"
)

// CorrelationMiddleware carries an inbound x-correlation-id onto server-to-server
// calls. Ids are propagated, never generated.
func (s *Server) CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(upstream.HeaderCorrelationID); id != "" {
			r = r.WithContext(upstream.WithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLogMiddleware logs every request once it completes. In DEV the coloured
// route line is printed as well.
func (s *Server) AccessLogMiddleware(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		if s.env == "DEV" {
			logRequest(r.Method, r.URL.Path, status)
		}
		event := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			event = hlog.FromRequest(r).Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}

// SessionMiddleware loads the session named by the signed cookie into the
// request context. Unknown, expired or forged cookies mean no session; a store
// failure is a 500.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.cookies.sessionID(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := s.store.Get(r.Context(), id)
		switch {
		case errors.Is(err, apperrors.ErrSessionNotFound):
			next.ServeHTTP(w, r)
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Str("code", apperrors.Code(err)).Msg("session lookup failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		default:
			next.ServeHTTP(w, r.WithContext(sessions.NewContext(r.Context(), sess)))
		}
	})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, private")
	w.Header().Set("Pragma", "no-cache")
}

func logRequest(method, path string, status int) {
	if status >= http.StatusInternalServerError {
		logRoute(method, path+" "+Red+http.StatusText(status)+ResetColor)
		return
	}
	logRoute(method, path)
}
