package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/sso-gateway/internal/config"
	"github.com/jrsteele09/sso-gateway/login"
	"github.com/jrsteele09/sso-gateway/proxy"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/users"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// TokenMinter issues tokens for an email address when SSO is disabled.
type TokenMinter interface {
	Mint(ctx context.Context, email string) (*sessions.SecurityToken, error)
}

// UserStateFetcher reads the signed-in user's state from the user service.
type UserStateFetcher interface {
	Fetch(ctx context.Context, accessToken string) (*users.UserState, error)
}

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config    config.Config
	Store     sessions.Store
	Login     *login.Pipeline
	OAuth2    *oauth2.Config // required when SSO is enabled
	Minter    TokenMinter    // required when SSO is disabled
	UserState UserStateFetcher
	Transport http.RoundTripper // optional proxy transport
	Logger    zerolog.Logger
}

type Server struct {
	env       string
	router    chi.Router
	config    config.Config
	store     sessions.Store
	login     *login.Pipeline
	oauth2    *oauth2.Config
	minter    TokenMinter
	userState UserStateFetcher
	cookies   *cookieCodec
	gateways  []mountedGateway
	base      zerolog.Logger // request loggers derive from this
	logger    zerolog.Logger
}

type mountedGateway struct {
	prefix  string
	gateway *proxy.Gateway
}

func New(deps Deps) (*Server, error) {
	cfg := deps.Config
	if cfg.GetSsoEnabled() && deps.OAuth2 == nil {
		return nil, fmt.Errorf("[Server New] SSO is enabled but no OAuth2 configuration was provided")
	}
	if !cfg.GetSsoEnabled() && deps.Minter == nil {
		return nil, fmt.Errorf("[Server New] SSO is disabled but no token minter was provided")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		router:    chi.NewRouter(),
		config:    cfg,
		store:     deps.Store,
		login:     deps.Login,
		oauth2:    deps.OAuth2,
		minter:    deps.Minter,
		userState: deps.UserState,
		base:      deps.Logger,
		logger:    deps.Logger.With().Str("component", "server").Logger(),
	}

	cookies, err := newCookieCodec(cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("[Server New] session cookie: %w", err)
	}
	s.cookies = cookies

	routes, err := cfg.GetProxyRoutes()
	if err != nil {
		return nil, fmt.Errorf("[Server New] proxy routes: %w", err)
	}
	for _, route := range routes {
		gw, err := proxy.New(proxy.Config{
			Name:          strings.TrimPrefix(route.Prefix, "/"),
			Target:        route.Target,
			VerifyDigests: route.VerifyDigests,
			MaxBodyBytes:  cfg.GetProxyMaxBodyBytes(),
			Transport:     deps.Transport,
			Logger:        deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("[Server New] proxy route %s: %w", route.Prefix, err)
		}
		s.gateways = append(s.gateways, mountedGateway{prefix: route.Prefix, gateway: gw})
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	_ = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		logRoute(method, route)
		return nil
	})
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}
