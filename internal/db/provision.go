package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/config"
	"newsletter/internal/logging"
)

const duplicateDatabase = "42P04"

// adminQuerier is the slice of a server-level pool used for provisioning.
type adminQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureDatabase creates the configured database when the server does not
// have it yet and returns a pool scoped to it. An empty database name is
// replaced with config.DefaultDatabaseName.
func EnsureDatabase(ctx context.Context, settings *config.DatabaseSettings, log *logging.Logger) (*pgxpool.Pool, error) {
	if settings.DefaultDatabase() {
		log.Warn("no database configured, using default", "database", settings.Database)
	}
	opts := PoolOptionsFrom(*settings)

	admin, err := BuildPool(ctx, settings.ConnectionStringWithoutDatabase(), opts, log)
	if err != nil {
		return nil, fmt.Errorf("build admin pool: %w", err)
	}
	created, err := ensureDatabase(ctx, admin, settings.Database)
	admin.Close()
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("created database", "database", settings.Database)
	} else {
		log.Debug("database already exists", "database", settings.Database)
	}

	return BuildPool(ctx, settings.ConnectionString(), opts, log)
}

// DatabaseExists reports whether the configured database is present on the
// server, connecting without a database to find out.
func DatabaseExists(ctx context.Context, settings config.DatabaseSettings, log *logging.Logger) (bool, error) {
	admin, err := BuildPool(ctx, settings.ConnectionStringWithoutDatabase(), PoolOptionsFrom(settings), log)
	if err != nil {
		return false, fmt.Errorf("build admin pool: %w", err)
	}
	defer admin.Close()
	return databaseExists(ctx, admin, settings.Database)
}

func ensureDatabase(ctx context.Context, q adminQuerier, name string) (bool, error) {
	exists, err := databaseExists(ctx, q, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := q.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateDatabase {
			return false, nil
		}
		return false, fmt.Errorf("create database %q: %w", name, err)
	}
	return true, nil
}

func databaseExists(ctx context.Context, q adminQuerier, name string) (bool, error) {
	var found int
	err := q.QueryRow(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up database %q: %w", name, err)
	}
	return true, nil
}
