// Package app wires the campus server runtime: config, logging, HTTP routes, and the
// realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"campus/cmd/identity"
	"campus/cmd/internal/directory"
	"campus/cmd/internal/media"
	"campus/cmd/internal/metrics"
	"campus/cmd/internal/realtime"
	"campus/cmd/internal/thread"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// App is the campus server runtime: it owns HTTP server wiring and the gateway's
// collaborators.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool

	store   thread.Store
	media   *media.Store
	dir     directory.Directory
	metrics *metrics.Metrics
	ws      *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		store:   thread.NewInMemoryStore(log),
		metrics: metrics.New(),
	}
	a.media = media.NewStore(media.Options{
		MaxBytes: cfg.MediaMaxBytes,
		MIMEType: cfg.MediaMIMEType,
		Logger:   log,
	})

	if err := a.openDirectory(ctx); err != nil {
		return nil, err
	}

	var tokens realtime.TokenVerifier
	if cfg.AuthPublicKeyHex != "" {
		v, err := identity.NewTokenVerifier(cfg.AuthPublicKeyHex, identity.TokenConfig{
			Issuer:    cfg.AuthIssuer,
			ClockSkew: cfg.AuthClockSkew,
		})
		if err != nil {
			a.closeDB()
			return nil, err
		}
		tokens = v
	}

	a.ws = realtime.NewWSGateway(log, cfg.Realtime(), realtime.Deps{
		Hub:       realtime.NewHub(log),
		Store:     a.store,
		Media:     a.media,
		Directory: a.dir,
		Tokens:    tokens,
		Metrics:   a.metrics,
	})
	return a, nil
}

// openDirectory selects Postgres when a database is configured and the open in-memory
// directory otherwise.
func (a *App) openDirectory(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.memory_directory")
		a.dir = directory.NewMemory(true)
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return err
	}
	dir, err := directory.NewPostgresDirectory(pool, directory.WithSchema(a.cfg.DBSchema))
	if err != nil {
		pool.Close()
		return err
	}

	a.log.Info("db.enabled.postgres_directory", "schema", a.cfg.DBSchema)
	a.dbPool = pool
	a.dir = dir
	return nil
}

func (a *App) closeDB() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// Handler returns the fully wrapped route tree.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbPool != nil,
		"require_auth", a.cfg.WSRequireAuth,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	a.log.Info("server.stopped")
	return err
}

// Close releases the stores and the DB pool.
func (a *App) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	a.closeDB()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
