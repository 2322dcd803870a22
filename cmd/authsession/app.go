package main

import (
	"context"
	"database/sql"
	"strings"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/activitymap"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// App holds the wired components shared by the commands.
type App struct {
	config   *auth.Options
	logger   *glog.BaseLogger
	db       *bun.DB
	repo     auth.RepositoryManager
	tokens   *auth.TokenService
	sessions *auth.SessionService
	metrics  *activitymap.MetricsSink
}

type loggerProvider struct {
	base *glog.BaseLogger
}

func (p loggerProvider) GetLogger(name string) auth.Logger {
	return p.base.GetLogger(name)
}

func newLogger() *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("authsession"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

// GetLogger returns a named logger
func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

// Close releases the database handle
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func loadApp(envFiles []string) (*App, error) {
	cfg, err := auth.LoadConfig(envFiles...)
	if err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
		logger: newLogger(),
	}

	if app.db, err = openDatabase(cfg.DatabaseDriver, cfg.DatabaseDSN); err != nil {
		return nil, err
	}

	provider := loggerProvider{base: app.logger}

	app.repo = auth.NewRepositoryManager(app.db,
		auth.WithRefreshTokenPolicy(cfg.RefreshTokenTTL, cfg.RefreshTokenIdleTTL),
	)

	app.tokens, err = auth.NewTokenService(
		auth.TokenConfigFromConfig(cfg),
		auth.WithTokenLogger(provider.GetLogger("tokens")),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.metrics = activitymap.NewMetricsSink()

	app.sessions = auth.NewSessionService(app.repo, app.tokens,
		auth.WithSessionLoggerProvider(provider),
		auth.WithSessionActivitySink(auth.MultiActivitySink(
			app.metrics,
			activityLogSink(app.GetLogger("activity")),
		)),
	)

	return app, nil
}

func openDatabase(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open sqlite database")
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case "postgres", "pgx":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open postgres database")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, errors.New("unsupported database driver: "+driver, errors.CategoryConfig).
			WithTextCode("UNSUPPORTED_DRIVER")
	}
}

func activityLogSink(logger glog.Logger) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		n := activitymap.Normalize(event)
		logger.Info("session activity",
			"verb", n.Verb,
			"actor", n.ActorID,
			"object", n.ObjectID,
			"metadata", n.Metadata,
		)
		return nil
	})
}
