package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"newsletter/internal/health"
	"newsletter/internal/logging"
)

const healthContentType = "application/health+json"

// OutputNotReady is reported while the health cache has no snapshot to serve.
const OutputNotReady = "health cache not ready"

// SnapshotReader is the read side of the health cache.
type SnapshotReader interface {
	Snapshot() (health.Snapshot, bool)
}

type Server struct {
	log    *logging.Logger
	health SnapshotReader
	r      chi.Router
}

type notReadyResponse struct {
	Status health.Status `json:"status"`
	Output string        `json:"output"`
}

func NewServer(log *logging.Logger, cache SnapshotReader) *Server {
	s := &Server{log: log.WithComponent("http"), health: cache, r: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler { return s.r }

func (s *Server) routes() {
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)
	s.r.Use(s.loggingMiddleware)
	s.r.Get("/healthz", s.handleLiveness)
	s.r.Get("/health_check", s.handleHealthCheck)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		logger := s.log.WithRequestID(reqID)
		ctx := logging.ContextWithLogger(r.Context(), logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleHealthCheck serves the cached snapshot. It never touches the
// database and never waits on the cache.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.health.Snapshot()
	if !ok {
		logging.FromContext(r.Context(), s.log).Debug("health snapshot unavailable")
		writeJSON(w, http.StatusServiceUnavailable, notReadyResponse{Status: health.StatusFail, Output: OutputNotReady})
		return
	}
	status := http.StatusOK
	if !snap.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", healthContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
