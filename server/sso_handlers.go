package server

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/login"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/oauth2"
)

const (
	msgMissingCode         = "Missing authorization code"
	msgLoginCallbackFailed = "SSO login callback failed"
	msgUserValidation      = "User validation failed"
)

func (s *Server) loginRedirectURI() string {
	return s.config.GetFrontendHostname() + s.config.GetSsoPaths().LoginCallback
}

// SsoLoginHandler redirects the browser to the identity provider. The provider
// posts the code back to the login callback (response_mode=form_post).
func (s *Server) SsoLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := randomState()
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("generating state")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		cfg := *s.oauth2
		cfg.RedirectURL = s.loginRedirectURI()
		cfg.Scopes = s.config.GetScopes()

		authURL := cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// SsoLoginCallbackHandler completes the login: code exchange, user
// reconciliation and session creation. The browser is sent back to the frontend.
func (s *Server) SsoLoginCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		code := r.FormValue("code")
		if code == "" {
			if e := r.FormValue("error"); e != "" {
				logger.Warn().Str("error", e).Msg("identity provider returned an error on callback")
			} else {
				logger.Warn().Msg("missing authorization code on SSO callback")
			}
			http.Error(w, msgMissingCode, http.StatusBadRequest)
			return
		}

		sess, err := s.login.Complete(r.Context(), code)
		if err != nil {
			logger.Error().Err(err).Str("code", apperrors.Code(err)).Msg("SSO login callback failed")
			switch {
			case errors.Is(err, apperrors.ErrMissingCode):
				http.Error(w, msgMissingCode, http.StatusBadRequest)
			case errors.Is(err, apperrors.ErrUserValidationFailed):
				http.Error(w, msgUserValidation, http.StatusInternalServerError)
			default:
				http.Error(w, msgLoginCallbackFailed, http.StatusInternalServerError)
			}
			return
		}

		s.cookies.set(w, sess.ID)
		http.Redirect(w, r, s.config.GetFrontendHostname(), http.StatusFound)
	}
}

// SsoLogoutHandler sends the browser to the identity provider's logout page,
// which returns it to the logout callback.
func (s *Server) SsoLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logoutURL, err := url.Parse(s.config.GetLogoutURL())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("invalid logout URL")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		q := logoutURL.Query()
		q.Set("post_logout_redirect_uri", s.config.GetFrontendHostname()+s.config.GetSsoPaths().LogoutCallback)
		logoutURL.RawQuery = q.Encode()
		http.Redirect(w, r, logoutURL.String(), http.StatusFound)
	}
}

// SsoLogoutCallbackHandler destroys the session and clears its cookie.
func (s *Server) SsoLogoutCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess := sessions.FromContext(r.Context()); sess != nil {
			if err := s.login.Logout(r.Context(), sess.ID); err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("error destroying session")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		}
		s.cookies.clear(w)
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// SsoAuthenticatedHandler answers 200 true while the session holds an unexpired
// access token, 401 false otherwise.
func (s *Server) SsoAuthenticatedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		w.Header().Set("Content-Type", "application/json")
		if !login.Authenticated(sessions.FromContext(r.Context())) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("false"))
			return
		}
		_, _ = w.Write([]byte("true"))
	}
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
