package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"newsletter/internal/logging"
)

const minProbeTimeout = time.Second

// SnapshotSource produces a fresh snapshot on demand.
type SnapshotSource interface {
	Probe(ctx context.Context) Snapshot
}

// MetricsRecorder observes every refresh of the cache.
type MetricsRecorder interface {
	ObserveHealth(status, read, write string, latency time.Duration)
}

// Cache holds the latest Snapshot and refreshes it on a fixed period.
// Readers never block: while a refresh is being published they are told
// that no snapshot is available.
type Cache struct {
	mu       sync.RWMutex
	snapshot *Snapshot

	validity time.Duration
	source   SnapshotSource
	log      *logging.Logger
	metrics  MetricsRecorder
	running  atomic.Bool
}

// NewCache builds an empty cache. Call Run to start refreshing. metrics may
// be nil.
func NewCache(validity time.Duration, source SnapshotSource, log *logging.Logger, metrics MetricsRecorder) *Cache {
	if validity <= 0 {
		validity = time.Second
	}
	return &Cache{validity: validity, source: source, log: log.WithComponent("health-cache"), metrics: metrics}
}

// Validity is the refresh period.
func (c *Cache) Validity() time.Duration { return c.validity }

// Run probes once per validity period, the first time one period after it
// starts, until ctx is cancelled. Only the first call on a cache runs.
func (c *Cache) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.log.Warn("health cache refresh loop already running")
		return
	}
	defer c.running.Store(false)

	c.log.Info("health cache refresh loop started", "validity", c.validity)
	ticker := time.NewTicker(c.validity)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("health cache refresh loop stopped")
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Cache) refresh(ctx context.Context) {
	timeout := c.validity
	if timeout < minProbeTimeout {
		timeout = minProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	snap := c.source.Probe(probeCtx)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	c.snapshot = &snap
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveHealth(string(snap.Status), string(snap.Checks.PostgresRead.Status), string(snap.Checks.PostgresWrite.Status), latency)
	}
	if !snap.Healthy() {
		c.log.Warn("database readiness degraded", "status", snap.Status, "output", snap.Output)
	} else {
		c.log.Debug("health snapshot refreshed", "latency", latency)
	}
}

// Snapshot returns the latest snapshot. ok is false when no refresh has
// completed yet or a refresh is being published at this instant.
func (c *Cache) Snapshot() (snap Snapshot, ok bool) {
	if !c.mu.TryRLock() {
		return Snapshot{}, false
	}
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return Snapshot{}, false
	}
	return *c.snapshot, true
}
