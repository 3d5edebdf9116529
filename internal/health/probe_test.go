package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"newsletter/internal/logging"
)

var (
	probeNow   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	serverNow  = probeNow.Add(3 * time.Millisecond)
	pgVersion  = "PostgreSQL 16.2 on x86_64-pc-linux-gnu"
	errBackend = errors.New("backend failure")
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *bool:
			*p = r.values[i].(bool)
		case *string:
			*p = r.values[i].(string)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeConn struct {
	prepareErr map[string]error
	queryErr   map[string]error
	recovery   bool
	prepared   map[string]string
	args       map[string][]any
	released   bool
}

func (c *fakeConn) Prepare(_ context.Context, name, sql string) error {
	if err := c.prepareErr[name]; err != nil {
		return err
	}
	c.prepared[name] = sql
	return nil
}

func (c *fakeConn) QueryRow(_ context.Context, name string, args ...any) pgx.Row {
	if _, ok := c.prepared[name]; !ok {
		return fakeRow{err: fmt.Errorf("prepared statement %q does not exist", name)}
	}
	c.args[name] = args
	if err := c.queryErr[name]; err != nil {
		return fakeRow{err: err}
	}
	if name == readStatement {
		return fakeRow{values: []any{serverNow, c.recovery, pgVersion}}
	}
	return fakeRow{values: []any{serverNow.Add(time.Millisecond)}}
}

func (c *fakeConn) Release() { c.released = true }

type fakeSource struct {
	conn *fakeConn
	err  error
}

func (s *fakeSource) Acquire(context.Context) (Conn, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conn, nil
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		prepareErr: map[string]error{},
		queryErr:   map[string]error{},
		prepared:   map[string]string{},
		args:       map[string][]any{},
	}
}

func testProber(source ConnSource) *Prober {
	p := NewProberWithSource(source, "1.2.3", logging.Discard())
	p.now = func() time.Time { return probeNow }
	return p
}

func TestProbeHealthy(t *testing.T) {
	conn := newFakeConn()
	snap := testProber(&fakeSource{conn: conn}).Probe(context.Background())

	assert.Equal(t, StatusPass, snap.Status)
	assert.True(t, snap.Healthy())
	assert.Equal(t, "1.2.3", snap.Version)
	assert.Equal(t, probeNow, snap.Time)
	assert.Empty(t, snap.Output)

	read := snap.Checks.PostgresRead
	assert.Equal(t, StatusPass, read.Status)
	require.NotNil(t, read.Time)
	assert.Equal(t, serverNow, *read.Time)
	require.NotNil(t, read.Version)
	assert.Equal(t, pgVersion, *read.Version)

	write := snap.Checks.PostgresWrite
	assert.Equal(t, StatusPass, write.Status)
	require.NotNil(t, write.Time)
	require.NotNil(t, write.PgIsInRecovery)
	assert.False(t, *write.PgIsInRecovery)
	assert.Equal(t, pgVersion, *write.Version)

	assert.True(t, conn.released)
	assert.Equal(t, readQuery, conn.prepared[readStatement])
	assert.Equal(t, writeQuery, conn.prepared[writeStatement])
	require.Len(t, conn.args[writeStatement], 1)
	assert.True(t, strings.HasPrefix(conn.args[writeStatement][0].(string), Caller+" 2024-05-01T12:00:00"))
}

func TestProbeClientError(t *testing.T) {
	snap := testProber(&fakeSource{err: errors.New("pool closed")}).Probe(context.Background())

	assert.Equal(t, StatusFail, snap.Status)
	assert.Equal(t, OutputClientError, snap.Output)
	assert.Equal(t, StatusFail, snap.Checks.PostgresRead.Status)
	assert.Equal(t, OutputClientError, snap.Checks.PostgresRead.Output)
	assert.Nil(t, snap.Checks.PostgresRead.Time)
	assert.Equal(t, StatusFail, snap.Checks.PostgresWrite.Status)
	assert.Nil(t, snap.Checks.PostgresWrite.PgIsInRecovery)
}

func TestProbeReplicaDegradesToWarn(t *testing.T) {
	conn := newFakeConn()
	conn.recovery = true
	conn.queryErr[writeStatement] = errors.New("cannot execute UPDATE in a read-only transaction")

	snap := testProber(&fakeSource{conn: conn}).Probe(context.Background())

	assert.Equal(t, StatusWarn, snap.Status)
	assert.Equal(t, StatusPass, snap.Checks.PostgresRead.Status)
	write := snap.Checks.PostgresWrite
	assert.Equal(t, StatusFail, write.Status)
	assert.Equal(t, OutputWriteError, write.Output)
	assert.Nil(t, write.Time)
	require.NotNil(t, write.PgIsInRecovery)
	assert.True(t, *write.PgIsInRecovery)
	require.NotNil(t, write.Version)
	assert.Equal(t, pgVersion, *write.Version)
}

// TestProbeOutcomes walks every combination of phase failures.
func TestProbeOutcomes(t *testing.T) {
	type failures struct {
		acquire, readPrepare, readQuery, writePrepare, writeQuery bool
	}
	for mask := 0; mask < 32; mask++ {
		f := failures{
			acquire:      mask&1 != 0,
			readPrepare:  mask&2 != 0,
			readQuery:    mask&4 != 0,
			writePrepare: mask&8 != 0,
			writeQuery:   mask&16 != 0,
		}
		t.Run(fmt.Sprintf("%+v", f), func(t *testing.T) {
			conn := newFakeConn()
			source := &fakeSource{conn: conn}
			if f.acquire {
				source.err = errBackend
			}
			if f.readPrepare {
				conn.prepareErr[readStatement] = errBackend
			}
			if f.readQuery {
				conn.queryErr[readStatement] = errBackend
			}
			if f.writePrepare {
				conn.prepareErr[writeStatement] = errBackend
			}
			if f.writeQuery {
				conn.queryErr[writeStatement] = errBackend
			}

			snap := testProber(source).Probe(context.Background())

			readOK := !f.acquire && !f.readPrepare && !f.readQuery
			writeOK := readOK && !f.writePrepare && !f.writeQuery
			switch {
			case !readOK:
				assert.Equal(t, StatusFail, snap.Status)
				assert.Equal(t, StatusFail, snap.Checks.PostgresRead.Status)
				assert.Equal(t, StatusFail, snap.Checks.PostgresWrite.Status)
			case !writeOK:
				assert.Equal(t, StatusWarn, snap.Status)
				assert.Equal(t, StatusPass, snap.Checks.PostgresRead.Status)
				assert.Equal(t, StatusFail, snap.Checks.PostgresWrite.Status)
				assert.NotNil(t, snap.Checks.PostgresWrite.PgIsInRecovery)
			default:
				assert.Equal(t, StatusPass, snap.Status)
				assert.Equal(t, StatusPass, snap.Checks.PostgresRead.Status)
				assert.Equal(t, StatusPass, snap.Checks.PostgresWrite.Status)
			}

			var want string
			switch {
			case f.acquire:
				want = OutputClientError
			case f.readPrepare:
				want = OutputReadStatementError
			case f.readQuery:
				want = OutputReadError
			case f.writePrepare:
				want = OutputWriteStatementError
			case f.writeQuery:
				want = OutputWriteError
			}
			assert.Equal(t, want, snap.Output)
			if !f.acquire {
				assert.True(t, conn.released)
			}
		})
	}
}

func TestSnapshotJSONLayout(t *testing.T) {
	conn := newFakeConn()
	conn.queryErr[writeStatement] = errBackend
	snap := testProber(&fakeSource{conn: conn}).Probe(context.Background())

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "warn", doc["status"])
	assert.Equal(t, "1.2.3", doc["version"])
	assert.Equal(t, "2024-05-01T12:00:00Z", doc["time"])

	checks := doc["checks"].(map[string]any)
	read := checks["postgres_read"].(map[string]any)
	assert.Equal(t, "pass", read["status"])
	assert.Equal(t, pgVersion, read["version"])

	write := checks["postgres_write"].(map[string]any)
	assert.Equal(t, "fail", write["status"])
	assert.Nil(t, write["time"])
	assert.Equal(t, false, write["pg_is_in_recovery"])
	assert.Equal(t, OutputWriteError, write["output"])
}

func TestFailedSnapshotJSONHasNulls(t *testing.T) {
	raw, err := json.Marshal(failedSnapshot(probeNow, "v", OutputClientError))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"pg_is_in_recovery":null`)
	assert.Contains(t, string(raw), `"version":null`)
	assert.Contains(t, string(raw), `"time":null`)
}

func TestSnapshotYAML(t *testing.T) {
	raw, err := yaml.Marshal(failedSnapshot(probeNow, "v", OutputClientError))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "status: fail")
	assert.Contains(t, string(raw), "postgres_write:")
	assert.Contains(t, string(raw), "output: DB client error")
}
