package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/hlog"
)

// StubLoginHandler replaces the identity provider when SSO is disabled:
// /sso/login?email=x goes straight to the callback with the same email.
func (s *Server) StubLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		if email == "" {
			hlog.FromRequest(r).Error().Msg("no email provided on stub login")
			http.Error(w, "No email provided.", http.StatusBadRequest)
			return
		}
		target := s.config.GetSsoPaths().LoginCallback + "?email=" + url.QueryEscape(email)
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// StubLoginCallbackHandler asks testing-support to mint a token for the email
// and stores it in a new session.
func (s *Server) StubLoginCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		if email == "" {
			logger.Error().Msg("no email provided on stub login callback")
			http.Error(w, "No email provided on login callback.", http.StatusBadRequest)
			return
		}

		tok, err := s.minter.Mint(r.Context(), email)
		if err != nil {
			logger.Error().Err(err).Msg("error on login-stub callback")
			http.Error(w, msgLoginCallbackFailed, http.StatusInternalServerError)
			return
		}
		sess, err := s.login.Adopt(r.Context(), tok)
		if err != nil {
			logger.Error().Err(err).Msg("error saving session")
			http.Error(w, msgLoginCallbackFailed, http.StatusInternalServerError)
			return
		}

		s.cookies.set(w, sess.ID)
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// StubLogoutHandler skips the provider logout page.
func (s *Server) StubLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.config.GetSsoPaths().LogoutCallback, http.StatusFound)
	}
}
