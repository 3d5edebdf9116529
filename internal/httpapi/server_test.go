package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/health"
	"newsletter/internal/logging"
)

type fixedSnapshot struct {
	snap health.Snapshot
	ok   bool
}

func (f fixedSnapshot) Snapshot() (health.Snapshot, bool) { return f.snap, f.ok }

func serve(t *testing.T, reader SnapshotReader, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(logging.Discard(), reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheckStatusCodes(t *testing.T) {
	cases := []struct {
		status health.Status
		code   int
	}{
		{health.StatusPass, http.StatusOK},
		{health.StatusWarn, http.StatusServiceUnavailable},
		{health.StatusFail, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			snap := health.Snapshot{Status: tc.status, Time: time.Now(), Version: "1.0.0"}
			rec := serve(t, fixedSnapshot{snap: snap, ok: true}, "/health_check")

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, healthContentType, rec.Header().Get("Content-Type"))
			var body health.Snapshot
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, "1.0.0", body.Version)
		})
	}
}

func TestHealthCheckNotReady(t *testing.T) {
	rec := serve(t, fixedSnapshot{}, "/health_check")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body notReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, health.StatusFail, body.Status)
	assert.Equal(t, OutputNotReady, body.Output)
}

func TestLiveness(t *testing.T) {
	rec := serve(t, fixedSnapshot{}, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(t, fixedSnapshot{}, "/subscriptions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
