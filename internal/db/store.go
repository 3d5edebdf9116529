package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createMigrationTable = `CREATE TABLE IF NOT EXISTS ` + MigrationTable + ` (
		version SERIAL PRIMARY KEY,
		filename TEXT NOT NULL,
		installed_on TIMESTAMPTZ NOT NULL DEFAULT now(),
		checksum UUID NOT NULL UNIQUE
	)`
	migrationTableExists = `SELECT to_regclass('` + MigrationTable + `') IS NOT NULL`
	migrationRecorded    = `SELECT EXISTS (SELECT 1 FROM ` + MigrationTable + ` WHERE checksum = $1::uuid)`
	insertMigration      = `INSERT INTO ` + MigrationTable + ` (filename, checksum) VALUES ($1, $2::uuid)`
	listMigrations       = `SELECT version, filename, installed_on, checksum FROM ` + MigrationTable + ` ORDER BY version`
)

type pgMigrationStore struct {
	pool *pgxpool.Pool
}

func (s *pgMigrationStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createMigrationTable)
	return err
}

func (s *pgMigrationStore) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, migrationTableExists).Scan(&exists)
	return exists, err
}

func (s *pgMigrationStore) Recorded(ctx context.Context, checksum uuid.UUID) (bool, error) {
	var recorded bool
	err := s.pool.QueryRow(ctx, migrationRecorded, checksum).Scan(&recorded)
	return recorded, err
}

// Apply runs the script through the simple protocol so that files holding
// several statements work, and records it in the same transaction.
func (s *pgMigrationStore) Apply(ctx context.Context, script Script) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, script.Text(), pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertMigration, script.Filename, script.Checksum); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}

func (s *pgMigrationStore) Records(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := s.pool.Query(ctx, listMigrations)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			rec      MigrationRecord
			checksum pgtype.UUID
		)
		if err := rows.Scan(&rec.Version, &rec.Filename, &rec.InstalledOn, &checksum); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		rec.Checksum = uuid.UUID(checksum.Bytes)
		records = append(records, rec)
	}
	return records, rows.Err()
}
