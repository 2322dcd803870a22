package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/middleware/csrf"
	"github.com/goliatone/go-auth-session/social"
	"github.com/goliatone/go-auth-session/social/providers/github"
	"github.com/goliatone/go-auth-session/social/providers/google"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveCmd(envFiles *[]string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*envFiles)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if migrate {
				if _, err := auth.Migrate(ctx, app.db); err != nil {
					return err
				}
			}

			return serve(ctx, app)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")

	return cmd
}

func serve(ctx context.Context, app *App) error {
	cfg := app.config
	logger := app.GetLogger("serve")

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	controllerCfg := auth.SessionControllerConfigFromOptions(cfg)
	controllerCfg.CSRF = &csrf.Config{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}

	sessions := auth.NewSessionController(app.sessions, app.tokens, controllerCfg,
		auth.WithControllerLoggerProvider(loggerProvider{base: app.logger}),
	)
	sessions.RegisterRoutes(srv.Router())

	providers := socialProviders(cfg)
	if cfg.StateSecret != "" && len(providers) > 0 {
		states, err := social.NewEncryptedStateManager(cfg.StateSecret)
		if err != nil {
			return err
		}

		opts := []social.SocialAuthOption{social.WithLogger(app.GetLogger("social"))}
		for _, p := range providers {
			opts = append(opts, social.WithProvider(p))
		}
		authenticator := social.NewSocialAuthenticator(states, opts...)

		// registered last, /auth/:provider would shadow the session routes
		social.NewHTTPController(authenticator, sessions, social.HTTPConfig{
			ErrorRedirect: cfg.SuccessRedirect,
		}).RegisterRoutes(srv.Router())
	} else {
		logger.Warn("social sign in disabled, STATE_SECRET or provider client id missing")
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.Serve(cfg.HTTPAddr); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	WaitExitSignal(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return srv.Shutdown(shutdownCtx)
}

func socialProviders(cfg *auth.Options) []social.SocialProvider {
	var providers []social.SocialProvider
	if cfg.GoogleClientID != "" {
		providers = append(providers, google.New(google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			CallbackURL:  cfg.GoogleCallbackURL,
		}))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, github.New(github.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			CallbackURL:  cfg.GitHubCallbackURL,
		}))
	}
	return providers
}

// WaitExitSignal blocks until the process is asked to stop or ctx ends.
func WaitExitSignal(ctx context.Context) {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	defer signal.Stop(ch)

	select {
	case <-ch:
	case <-ctx.Done():
	}
}
