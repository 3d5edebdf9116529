package db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/config"
	"newsletter/internal/logging"
)

// MaxPoolSize bounds the number of connections held by every pool built here.
const MaxPoolSize = 16

var (
	ErrInvalidConnectionString = errors.New("invalid connection string")
	ErrTLSConfig               = errors.New("tls configuration failed")
	ErrPoolBuild               = errors.New("connection pool build failed")
)

// PoolOptions controls transport security for BuildPool.
type PoolOptions struct {
	TLS            bool
	CACertificates string
}

// PoolOptionsFrom extracts the pool options carried by the database settings.
func PoolOptionsFrom(settings config.DatabaseSettings) PoolOptions {
	return PoolOptions{TLS: settings.SSL.TLS, CACertificates: settings.SSL.CACertificates}
}

// BuildPool creates a bounded pgx pool for connString. Connections are
// opened lazily and pinged before each reuse, so an unreachable server is
// reported by the first acquire rather than here.
func BuildPool(ctx context.Context, connString config.Secret, opts PoolOptions, log *logging.Logger) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(connString, opts, log)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPoolBuild, connString, err)
	}
	log.Debug("built connection pool", "target", connString, "tls", opts.TLS, "max_conns", cfg.MaxConns)
	return pool, nil
}

func poolConfig(connString config.Secret, opts PoolOptions, log *logging.Logger) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(connString.Expose())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConnectionString, err)
	}

	var tlsConfig *tls.Config
	if opts.TLS {
		tlsConfig, err = buildTLSConfig(cfg.ConnConfig.Host, opts.CACertificates, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTLSConfig, err)
		}
	}
	applyTLS(&cfg.ConnConfig.Config, tlsConfig)

	cfg.MaxConns = MaxPoolSize
	cfg.BeforeAcquire = verifyConn
	cfg.AfterRelease = func(conn *pgx.Conn) bool { return !conn.IsClosed() }
	return cfg, nil
}

// applyTLS pins every host of the config to tlsConfig, dropping the
// plaintext fallbacks pgx adds for sslmode=prefer.
func applyTLS(conn *pgconn.Config, tlsConfig *tls.Config) {
	conn.TLSConfig = tlsConfig
	seen := map[string]bool{hostKey(conn.Host, conn.Port): true}
	fallbacks := conn.Fallbacks[:0]
	for _, fb := range conn.Fallbacks {
		key := hostKey(fb.Host, fb.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		fb.TLSConfig = nil
		if tlsConfig != nil {
			fb.TLSConfig = tlsConfig.Clone()
			fb.TLSConfig.ServerName = fb.Host
		}
		fallbacks = append(fallbacks, fb)
	}
	conn.Fallbacks = fallbacks
}

func hostKey(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

func verifyConn(ctx context.Context, conn *pgx.Conn) bool {
	return conn.Ping(ctx) == nil
}
