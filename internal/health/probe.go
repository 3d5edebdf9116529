package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/logging"
)

const (
	OutputClientError         = "DB client error"
	OutputReadStatementError  = "DB read statement error."
	OutputReadError           = "DB read error."
	OutputWriteStatementError = "DB write statement error."
	OutputWriteError          = "DB write error."
)

const (
	readStatement  = "healthcheck_read"
	writeStatement = "healthcheck_write"

	readQuery  = `SELECT clock_timestamp() AS datetime, pg_is_in_recovery() AS recovery, version() AS pg_version`
	writeQuery = `UPDATE _healthcheck SET updated_by = $1, datetime = clock_timestamp() WHERE id = true RETURNING datetime`
)

// Caller identifies this service in _healthcheck.updated_by.
const Caller = "newsletter"

// Conn is the part of a pooled connection used by a probe.
type Conn interface {
	Prepare(ctx context.Context, name, sql string) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// ConnSource hands out connections for probing.
type ConnSource interface {
	Acquire(ctx context.Context) (Conn, error)
}

type poolSource struct {
	pool *pgxpool.Pool
}

func (s poolSource) Acquire(ctx context.Context) (Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pooledConn{conn: conn}, nil
}

type pooledConn struct {
	conn *pgxpool.Conn
}

// Prepare caches the statement on the connection; repeated calls with the
// same name and SQL are free.
func (c pooledConn) Prepare(ctx context.Context, name, sql string) error {
	_, err := c.conn.Conn().Prepare(ctx, name, sql)
	return err
}

func (c pooledConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c pooledConn) Release() { c.conn.Release() }

// Prober runs the two-phase readiness check.
type Prober struct {
	source  ConnSource
	version string
	log     *logging.Logger
	now     func() time.Time
}

// NewProber probes the database behind pool. version is reported in every
// snapshot.
func NewProber(pool *pgxpool.Pool, version string, log *logging.Logger) *Prober {
	return NewProberWithSource(poolSource{pool: pool}, version, log)
}

func NewProberWithSource(source ConnSource, version string, log *logging.Logger) *Prober {
	return &Prober{source: source, version: version, log: log.WithComponent("health"), now: time.Now}
}

// Probe reads the server clock, recovery flag and version, then touches the
// _healthcheck row. A failed read fails the snapshot; a failed write after
// a good read only degrades it to warn. Probe never returns an error.
func (p *Prober) Probe(ctx context.Context) Snapshot {
	now := p.now()

	conn, err := p.source.Acquire(ctx)
	if err != nil {
		p.log.Error("could not acquire database connection", "error", err)
		return failedSnapshot(now, p.version, OutputClientError)
	}
	defer conn.Release()

	if err := conn.Prepare(ctx, readStatement, readQuery); err != nil {
		p.log.Error("failed to prepare healthcheck read query", "error", err)
		return failedSnapshot(now, p.version, OutputReadStatementError)
	}
	var (
		serverTime    time.Time
		recovery      bool
		serverVersion string
	)
	if err := conn.QueryRow(ctx, readStatement).Scan(&serverTime, &recovery, &serverVersion); err != nil {
		p.log.Warn("healthcheck read query failed", "error", err)
		return failedSnapshot(now, p.version, OutputReadError)
	}

	snap := Snapshot{Status: StatusPass, Time: now, Version: p.version}
	snap.Checks.PostgresRead = ReadCheck{Status: StatusPass, Time: &serverTime, Version: &serverVersion}
	write := WriteCheck{Status: StatusFail, PgIsInRecovery: &recovery, Version: &serverVersion}

	if err := conn.Prepare(ctx, writeStatement, writeQuery); err != nil {
		p.log.Error("failed to prepare healthcheck write query", "error", err)
		return degraded(snap, write, OutputWriteStatementError)
	}
	var written time.Time
	marker := fmt.Sprintf("%s %s", Caller, now.UTC().Format(time.RFC3339Nano))
	if err := conn.QueryRow(ctx, writeStatement, marker).Scan(&written); err != nil {
		p.log.Warn("healthcheck write query failed", "error", err, "recovery", recovery)
		return degraded(snap, write, OutputWriteError)
	}

	write.Status = StatusPass
	write.Time = &written
	snap.Checks.PostgresWrite = write
	return snap
}

func degraded(snap Snapshot, write WriteCheck, output string) Snapshot {
	write.Output = output
	snap.Checks.PostgresWrite = write
	snap.Status = StatusWarn
	snap.Output = output
	return snap
}
