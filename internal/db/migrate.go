package db

import (
	"context"
	"crypto/md5"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/logging"
)

// MigrationTable records every script applied to the database.
const MigrationTable = "_initialization_migrations"

// Script is one migration file together with its content checksum.
type Script struct {
	Filename string
	Body     []byte
	Checksum uuid.UUID
}

// NewScript builds a Script, computing its checksum from body.
func NewScript(filename string, body []byte) Script {
	return Script{Filename: filename, Body: body, Checksum: Checksum(body)}
}

// Text is the body as executed: invalid UTF-8 is replaced with U+FFFD.
func (s Script) Text() string {
	return strings.ToValidUTF8(string(s.Body), "\uFFFD")
}

// Checksum is the MD5 digest of the script text viewed as a UUID. Two files
// with the same content share a checksum regardless of their names.
func Checksum(body []byte) uuid.UUID {
	text := strings.ToValidUTF8(string(body), "\uFFFD")
	return uuid.UUID(md5.Sum([]byte(text)))
}

// MigrationRecord is a row of MigrationTable.
type MigrationRecord struct {
	Version     int64
	Filename    string
	InstalledOn time.Time
	Checksum    uuid.UUID
}

// Report summarises a migration run.
type Report struct {
	Applied []Script
	Skipped []Script
}

// MigrationRecorder receives one call per script considered by Run.
type MigrationRecorder interface {
	RecordMigration(applied bool)
}

type migrationStore interface {
	EnsureTable(ctx context.Context) error
	TableExists(ctx context.Context) (bool, error)
	Recorded(ctx context.Context, checksum uuid.UUID) (bool, error)
	Apply(ctx context.Context, script Script) error
	Records(ctx context.Context) ([]MigrationRecord, error)
}

// Migrator applies SQL scripts at most once per distinct content.
type Migrator struct {
	store   migrationStore
	log     *logging.Logger
	metrics MigrationRecorder
}

// NewMigrator returns a Migrator tracking scripts in MigrationTable of pool.
// metrics may be nil.
func NewMigrator(pool *pgxpool.Pool, log *logging.Logger, metrics MigrationRecorder) *Migrator {
	return newMigrator(&pgMigrationStore{pool: pool}, log, metrics)
}

func newMigrator(store migrationStore, log *logging.Logger, metrics MigrationRecorder) *Migrator {
	return &Migrator{store: store, log: log.WithComponent("migrator"), metrics: metrics}
}

// Run executes every script of fsys whose checksum has not been recorded,
// in lexicographic filename order, and stops at the first failure. Each
// script runs in its own transaction together with its record.
func (m *Migrator) Run(ctx context.Context, fsys fs.FS) (Report, error) {
	var report Report
	if err := m.store.EnsureTable(ctx); err != nil {
		return report, fmt.Errorf("ensure %s: %w", MigrationTable, err)
	}
	scripts, err := ListScripts(fsys)
	if err != nil {
		return report, err
	}
	for _, script := range scripts {
		recorded, err := m.store.Recorded(ctx, script.Checksum)
		if err != nil {
			return report, fmt.Errorf("check migration %s: %w", script.Filename, err)
		}
		if recorded {
			m.log.Debug("migration already applied", "file", script.Filename, "checksum", script.Checksum)
			report.Skipped = append(report.Skipped, script)
			m.record(false)
			continue
		}
		if err := m.store.Apply(ctx, script); err != nil {
			return report, fmt.Errorf("apply migration %s: %w", script.Filename, err)
		}
		m.log.Info("migration applied", "file", script.Filename, "checksum", script.Checksum)
		report.Applied = append(report.Applied, script)
		m.record(true)
	}
	return report, nil
}

// Pending lists the scripts of fsys that Run would execute. It only reads:
// a missing tracking table means every script is pending.
func (m *Migrator) Pending(ctx context.Context, fsys fs.FS) ([]Script, error) {
	scripts, err := ListScripts(fsys)
	if err != nil {
		return nil, err
	}
	scripts = Unique(scripts)
	exists, err := m.store.TableExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", MigrationTable, err)
	}
	if !exists {
		return scripts, nil
	}
	var pending []Script
	for _, script := range scripts {
		recorded, err := m.store.Recorded(ctx, script.Checksum)
		if err != nil {
			return nil, fmt.Errorf("check migration %s: %w", script.Filename, err)
		}
		if !recorded {
			pending = append(pending, script)
		}
	}
	return pending, nil
}

// Applied returns the recorded migrations ordered by version, or none when
// the tracking table does not exist yet.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationRecord, error) {
	exists, err := m.store.TableExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", MigrationTable, err)
	}
	if !exists {
		return nil, nil
	}
	return m.store.Records(ctx)
}

func (m *Migrator) record(applied bool) {
	if m.metrics != nil {
		m.metrics.RecordMigration(applied)
	}
}

// Unique drops every script whose content repeats an earlier one.
func Unique(scripts []Script) []Script {
	seen := make(map[uuid.UUID]bool, len(scripts))
	out := make([]Script, 0, len(scripts))
	for _, script := range scripts {
		if seen[script.Checksum] {
			continue
		}
		seen[script.Checksum] = true
		out = append(out, script)
	}
	return out
}

// ListScripts reads every regular entry at the root of fsys, sorted by name.
// Subdirectories are ignored.
func ListScripts(fsys fs.FS) ([]Script, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	scripts := make([]Script, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		body, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		scripts = append(scripts, NewScript(entry.Name(), body))
	}
	return scripts, nil
}
