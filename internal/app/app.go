// Package app wires configuration, the database and the health cache into
// a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/config"
	"newsletter/internal/db"
	"newsletter/internal/health"
	"newsletter/internal/httpapi"
	"newsletter/internal/logging"
	"newsletter/internal/observability"
	"newsletter/migrations"
)

const shutdownTimeout = 5 * time.Second

// ErrDatabaseMissing is returned when migrations are disabled and the
// configured database does not exist.
var ErrDatabaseMissing = errors.New("database does not exist")

// MigrationSource returns the configured migration folder, or the embedded
// scripts when none is set.
func MigrationSource(settings config.DatabaseSettings) fs.FS {
	if folder := strings.TrimSpace(settings.Migration.Folder); folder != "" {
		return os.DirFS(folder)
	}
	return migrations.Files
}

// OpenDatabase returns the application pool. With migrations enabled it
// provisions the database and applies pending scripts first; otherwise it
// refuses to start against a missing database.
func OpenDatabase(ctx context.Context, settings *config.DatabaseSettings, log *logging.Logger, metrics *observability.Metrics) (*pgxpool.Pool, error) {
	if !settings.Migration.Migrate {
		return openExisting(ctx, settings, log)
	}

	pool, err := db.EnsureDatabase(ctx, settings, log)
	if err != nil {
		return nil, fmt.Errorf("provision database: %w", err)
	}
	var recorder db.MigrationRecorder
	if metrics != nil {
		recorder = metrics
	}
	report, err := db.NewMigrator(pool, log, recorder).Run(ctx, MigrationSource(*settings))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("migrations complete", "applied", len(report.Applied), "skipped", len(report.Skipped))
	return pool, nil
}

func openExisting(ctx context.Context, settings *config.DatabaseSettings, log *logging.Logger) (*pgxpool.Pool, error) {
	if settings.DefaultDatabase() {
		log.Warn("no database configured, using default", "database", settings.Database)
	}
	exists, err := db.DatabaseExists(ctx, *settings, log)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrDatabaseMissing, settings.Database)
	}
	return db.BuildPool(ctx, settings.ConnectionString(), db.PoolOptionsFrom(*settings), log)
}

// Serve starts the health cache, the public listener and the optional admin
// listener, then blocks until ctx is cancelled.
func Serve(ctx context.Context, settings *config.Settings, version string, log *logging.Logger) error {
	metrics := observability.NewMetrics(nil)

	pool, err := OpenDatabase(ctx, &settings.Database, log, metrics)
	if err != nil {
		return err
	}
	defer pool.Close()
	metrics.RegisterPool(pool)

	cache := health.NewCache(settings.Application.HealthCacheValidity(), health.NewProber(pool, version, log), log, metrics)
	go cache.Run(ctx)

	var admin *observability.Server
	if settings.Admin != nil {
		admin, err = observability.Start(settings.Admin.ListenAddr(), log, metrics.Registry(), Readiness(cache))
		if err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}
	}

	api := httpapi.NewServer(log, cache)
	srv := &http.Server{
		Addr:              settings.Application.ListenAddr(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		_ = admin.Stop(context.Background())
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return serve(ctx, srv, ln, admin, version, log)
}

// serve runs srv on ln until ctx ends or the server fails, then shuts down
// srv and the admin listener.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, admin *observability.Server, version string, log *logging.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info("newsletter listening", "addr", ln.Addr().String(), "version", version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failed error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			failed = fmt.Errorf("http server: %w", err)
		}
	}
	log.Info("shutting down newsletter")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(failed, srv.Shutdown(shutdownCtx), admin.Stop(shutdownCtx))
}

// Readiness adapts the cache for the admin /readyz endpoint.
func Readiness(cache httpapi.SnapshotReader) func(context.Context) error {
	return func(context.Context) error {
		snap, ok := cache.Snapshot()
		if !ok {
			return errors.New(httpapi.OutputNotReady)
		}
		if !snap.Healthy() {
			return fmt.Errorf("database %s: %s", snap.Status, snap.Output)
		}
		return nil
	}
}
