package observability

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var healthStatuses = []string{"pass", "warn", "fail"}

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// Metrics centralizes Prometheus instrumentation for readiness probing,
// migrations and the connection pool.
type Metrics struct {
	registry *prometheus.Registry

	probeResults *prometheus.CounterVec
	probeLatency prometheus.Histogram
	healthStatus *prometheus.GaugeVec

	migrations *prometheus.CounterVec
}

// NewMetrics builds a metrics container backed by the provided registry. If no
// registry is supplied, a new one is created.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{registry: reg}

	m.probeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_health_probe_results_total",
		Help: "Readiness probe results grouped by check and status",
	}, []string{"check", "status"})
	m.probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsletter_health_probe_latency_seconds",
		Help:    "Readiness probe latency distribution",
		Buckets: prometheus.DefBuckets,
	})
	m.healthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newsletter_health_status",
		Help: "1 for the status of the latest readiness snapshot, 0 otherwise",
	}, []string{"status"})

	m.migrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_migrations_total",
		Help: "Migration scripts considered at startup grouped by result",
	}, []string{"result"})

	reg.MustRegister(m.probeResults, m.probeLatency, m.healthStatus, m.migrations)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHealth records one refresh of the readiness snapshot.
func (m *Metrics) ObserveHealth(status, read, write string, latency time.Duration) {
	m.probeResults.WithLabelValues("overall", status).Inc()
	m.probeResults.WithLabelValues("postgres_read", read).Inc()
	m.probeResults.WithLabelValues("postgres_write", write).Inc()
	m.probeLatency.Observe(latency.Seconds())
	for _, s := range healthStatuses {
		if s == status {
			m.healthStatus.WithLabelValues(s).Set(1)
		} else {
			m.healthStatus.WithLabelValues(s).Set(0)
		}
	}
}

func (m *Metrics) RecordMigration(applied bool) {
	result := "skipped"
	if applied {
		result = "applied"
	}
	m.migrations.WithLabelValues(result).Inc()
}

// RegisterPool exports live connection pool statistics.
func (m *Metrics) RegisterPool(pool PoolStatter) {
	gauge := func(name, help string, value func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(pool.Stat())
		})
	}
	m.registry.MustRegister(
		gauge("newsletter_db_pool_max_conns", "Maximum size of the connection pool",
			func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
		gauge("newsletter_db_pool_total_conns", "Connections currently open",
			func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("newsletter_db_pool_acquired_conns", "Connections currently checked out",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("newsletter_db_pool_idle_conns", "Idle connections",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "newsletter_db_pool_acquires_total",
			Help: "Successful connection acquisitions",
		}, func() float64 { return float64(pool.Stat().AcquireCount()) }),
	)
}
