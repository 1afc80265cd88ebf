package server

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog/hlog"
)

func (s *Server) initRoutes() {
	r := s.router
	r.Use(
		middleware.RealIP,
		hlog.NewHandler(s.base),
		hlog.CustomHeaderHandler("correlation_id", upstream.HeaderCorrelationID),
		s.AccessLogMiddleware,
		middleware.Recoverer,
		s.CorrelationMiddleware,
		s.SessionMiddleware,
	)

	for _, m := range s.gateways {
		r.Mount(m.prefix, http.StripPrefix(m.prefix, m.gateway))
	}

	paths := s.config.GetSsoPaths()
	if s.config.GetSsoEnabled() {
		r.Get(paths.Login, s.SsoLoginHandler())
		r.Post(paths.LoginCallback, s.SsoLoginCallbackHandler())
		r.Get(paths.Logout, s.SsoLogoutHandler())
	} else {
		r.Get(paths.Login, s.StubLoginHandler())
		r.Get(paths.LoginCallback, s.StubLoginCallbackHandler())
		r.Get(paths.Logout, s.StubLogoutHandler())
	}
	r.Get(paths.LogoutCallback, s.SsoLogoutCallbackHandler())
	r.Get(paths.Authenticated, s.SsoAuthenticatedHandler())

	r.Get(s.config.GetSessionExpiryPath(), s.SessionExpiryHandler())
	if s.userState != nil {
		r.Get(s.config.GetUserStatePath(), s.UserStateHandler())
	}
}
