package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/sso-gateway/broker"
	"github.com/jrsteele09/sso-gateway/internal/config"
	"github.com/jrsteele09/sso-gateway/login"
	"github.com/jrsteele09/sso-gateway/server"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/jrsteele09/sso-gateway/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 5 * time.Second
	sweepInterval     = time.Minute
	redisPingInterval = 5 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var propertiesFile string
	cmd := &cobra.Command{
		Use:           "sso-gateway",
		Short:         "SSO gateway: OAuth2 login, user reconciliation and a digest-verifying API proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(propertiesFile)
			if err != nil {
				return err
			}
			setupLogger(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&propertiesFile, "properties", "", "YAML properties file (defaults to $"+config.PropertiesFileEnvVar+")")
	return cmd
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.GetAppName()).Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	log.Logger = logger
}

func run(ctx context.Context, cfg config.Config) error {
	displayAppname(cfg.GetAppName())
	logger := log.Logger

	g, ctx := errgroup.WithContext(ctx)

	store, closeStore, err := newSessionStore(ctx, g, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	handler, err := newHandler(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server.ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return shutdown(httpServer)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newSessionStore builds the configured backend. A Redis backend that cannot be
// reached after its reconnect attempts is fatal, at startup or later.
func newSessionStore(ctx context.Context, g *errgroup.Group, cfg config.Config, logger zerolog.Logger) (sessions.Store, func(), error) {
	switch cfg.GetSessionBackend() {
	case config.SessionBackendRedis:
		store, err := sessions.NewRedisStoreFromURL(cfg.GetRedisURL(), cfg.GetSessionPrefix(), logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using Redis session store")
		if err := store.Connect(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		g.Go(func() error {
			return store.Monitor(ctx, redisPingInterval)
		})
		return store, func() { _ = store.Close() }, nil

	case config.SessionBackendFile:
		logger.Info().Str("dir", cfg.GetSessionFileDir()).Msg("using file session store")
		store, err := sessions.NewFileStore(cfg.GetSessionFileDir())
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	default:
		logger.Info().Msg("using in-memory session store")
		store := sessions.NewMemoryStore()
		g.Go(func() error {
			store.RunSweeper(ctx, sweepInterval)
			return nil
		})
		return store, func() {}, nil
	}
}

func newHandler(ctx context.Context, cfg config.Config, store sessions.Store, logger zerolog.Logger) (http.Handler, error) {
	client := upstream.NewClient(upstream.WithLogger(logger))
	paths := cfg.GetUserPaths()
	reconciler := users.NewReconciler(users.ReconcilerConfig{
		BaseURL:    cfg.GetUserServiceTarget(),
		LookupPath: paths.Lookup,
		CreatePath: paths.Create,
		UpdatePath: paths.Update,
	}, client, logger)

	deps := server.Deps{
		Config:    cfg,
		Store:     store,
		UserState: users.NewStateFetcher(cfg.GetUserServiceTarget(), client, logger),
		Logger:    logger,
	}

	var exchanger broker.CodeExchanger
	if cfg.GetSsoEnabled() {
		oauthExchanger, err := broker.DiscoverOAuth2Exchanger(ctx, cfg.GetIssuerURL(), cfg.GetClientID(), cfg.GetClientSecret(),
			&http.Client{Timeout: upstream.DefaultTimeout})
		if err != nil {
			return nil, err
		}
		oauthCfg := oauthExchanger.Config()
		deps.OAuth2 = &oauthCfg
		exchanger = oauthExchanger
	} else {
		logger.Warn().Msg("SSO disabled, logins are minted by testing-support")
		deps.Minter = broker.NewTestingSupportMinter(cfg.GetApiTarget(), client, logger)
		exchanger = unavailableExchanger{}
	}

	deps.Login = login.New(login.Config{
		RedirectURI: cfg.GetFrontendHostname() + cfg.GetSsoPaths().LoginCallback,
		Scopes:      cfg.GetScopes(),
		SessionTTL:  cfg.GetSessionMaxAge(),
	}, broker.New(exchanger, logger), reconciler, store, logger)

	srv, err := server.New(deps)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// unavailableExchanger backs the code exchange when SSO is disabled; the stub
// routes never reach it.
type unavailableExchanger struct{}

func (unavailableExchanger) ExchangeCode(context.Context, string, string, []string) (*broker.ExchangeResult, error) {
	return nil, errors.New("sso is disabled")
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
