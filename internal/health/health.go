// Package health probes the database in two phases and caches the result
// for cheap, non-blocking readiness answers.
package health

import "time"

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Snapshot is one complete readiness result, serialized in the
// application/health+json layout.
type Snapshot struct {
	Status  Status    `json:"status" yaml:"status"`
	Checks  Checks    `json:"checks" yaml:"checks"`
	Output  string    `json:"output" yaml:"output"`
	Time    time.Time `json:"time" yaml:"time"`
	Version string    `json:"version" yaml:"version"`
}

type Checks struct {
	PostgresRead  ReadCheck  `json:"postgres_read" yaml:"postgres_read"`
	PostgresWrite WriteCheck `json:"postgres_write" yaml:"postgres_write"`
}

// ReadCheck carries the server clock and version when the read phase passed.
type ReadCheck struct {
	Status  Status     `json:"status" yaml:"status"`
	Time    *time.Time `json:"time" yaml:"time"`
	Output  string     `json:"output" yaml:"output"`
	Version *string    `json:"version" yaml:"version"`
}

// WriteCheck reports the write phase. PgIsInRecovery and Version come from
// the read phase and are set whenever it passed.
type WriteCheck struct {
	Status         Status     `json:"status" yaml:"status"`
	Time           *time.Time `json:"time" yaml:"time"`
	PgIsInRecovery *bool      `json:"pg_is_in_recovery" yaml:"pg_is_in_recovery"`
	Output         string     `json:"output" yaml:"output"`
	Version        *string    `json:"version" yaml:"version"`
}

// Healthy reports whether both phases passed.
func (s Snapshot) Healthy() bool { return s.Status == StatusPass }

// failedSnapshot is the result when no database answer was obtained.
func failedSnapshot(now time.Time, version, output string) Snapshot {
	return Snapshot{
		Status: StatusFail,
		Checks: Checks{
			PostgresRead:  ReadCheck{Status: StatusFail, Output: output},
			PostgresWrite: WriteCheck{Status: StatusFail, Output: output},
		},
		Output:  output,
		Time:    now,
		Version: version,
	}
}
