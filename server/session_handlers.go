package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/token"
	"github.com/jrsteele09/sso-gateway/users"
	"github.com/rs/zerolog/hlog"
)

const contentTypeJSON = "application/json"

type sessionExpiryResponse struct {
	Expiry                         *string `json:"expiry"`
	WarningThresholdInMilliseconds *int64  `json:"warningThresholdInMilliseconds"`
}

// SessionExpiryHandler reports when the session's access token expires. In test
// mode the expiry is now plus the configured expiry time.
func (s *Server) SessionExpiryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp sessionExpiryResponse
		if raw := sessions.FromContext(r.Context()).AccessToken(); raw != "" {
			var expiry time.Time
			if s.config.GetExpiryTestMode() {
				expiry = token.NowTimeFunc().Add(s.config.GetExpiryTime())
			} else if exp, ok := token.ExpiresAt(raw); ok {
				expiry = exp
			}
			if !expiry.IsZero() {
				formatted := expiry.UTC().Format(time.RFC3339)
				resp.Expiry = &formatted
			}
			threshold := s.config.GetExpiryWarningThreshold().Milliseconds()
			resp.WarningThresholdInMilliseconds = &threshold
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// UserStateHandler relays the signed-in user's state from the user service.
func (s *Server) UserStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		raw := sessions.FromContext(r.Context()).AccessToken()
		if raw == "" {
			writeJSONError(w, "unauthorized", "No active session", http.StatusUnauthorized)
			return
		}

		state, err := s.userState.Fetch(r.Context(), raw)
		if err != nil {
			var stateErr *users.StateError
			if !errors.As(err, &stateErr) {
				stateErr = &users.StateError{Status: http.StatusBadGateway, Code: "user_state_fetch_failed", Message: "Unable to fetch user state"}
			}
			hlog.FromRequest(r).Error().Err(err).Msg("fetchUserState error")
			writeJSONError(w, stateErr.Code, stateErr.Message, stateErr.Status)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes the {error, message} body the frontend expects.
func writeJSONError(w http.ResponseWriter, errorCode, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
