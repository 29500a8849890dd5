// Package health implements heartbeat intake and TTL-based liveness
// eviction, sweeping the registry on a fixed period.
package health

import (
	"context"
	"fmt"
	"time"

	"coordinator/internal/registry"
	"coordinator/pkg/clock"
	"coordinator/pkg/logging"
)

// Config controls the Health Monitor's timing, bound to the COORD_* env
// vars in internal/config.
type Config struct {
	SweepInterval time.Duration
	SoftTTL       time.Duration // default 30s
	HardTTL       time.Duration // default 90s
}

// DefaultConfig returns the coordinator's documented defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 5 * time.Second,
		SoftTTL:       30 * time.Second,
		HardTTL:       90 * time.Second,
	}
}

// Metrics is the optional self-reported payload accompanying a heartbeat.
type Metrics struct {
	Load     float64 `json:"load"`
	Inflight int     `json:"inflight"`
	Degraded bool    `json:"degraded"`
}

// Monitor owns heartbeat intake and the background liveness sweeper.
type Monitor struct {
	store *registry.Store
	clock clock.Clock
	cfg   Config
}

// New creates a Monitor bound to store.
func New(store *registry.Store, c clock.Clock, cfg Config) *Monitor {
	return &Monitor{store: store, clock: c, cfg: cfg}
}

// Heartbeat updates last_heartbeat and folds self-reported metrics into
// perf_window, promoting a dead MCP back to active/half_open on revival.
// This touches only the target entry's per-entry lock.
func (m *Monitor) Heartbeat(id string, metrics Metrics) error {
	now := m.clock.Now()
	err := m.store.Mutate(id, func(d *registry.Descriptor) {
		wasDead := d.Status == registry.StatusDead
		d.LastHeartbeat = now
		d.PerfWindow.ObserveLoad(metrics.Load)

		if wasDead {
			d.Status = registry.StatusActive
			d.Breaker.State = registry.BreakerHalfOpen
			logging.Info("Health", "MCP %s revived on heartbeat, breaker -> half_open", d.ID)
		} else if metrics.Degraded {
			d.Status = registry.StatusDegraded
		} else if d.Status == registry.StatusSuspect || d.Status == registry.StatusDegraded {
			d.Status = registry.StatusActive
		}
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Sweep runs one liveness pass over every registered MCP, applying the
// soft/hard TTL transitions. It is single-threaded over a registry
// snapshot; all resulting mutations go back through the registry's
// per-entry locking.
func (m *Monitor) Sweep() {
	now := m.clock.Now()
	for _, d := range m.store.List(registry.Filter{}) {
		age := now.Sub(d.LastHeartbeat)
		id := d.ID

		switch {
		case age >= m.cfg.HardTTL:
			if d.Status != registry.StatusDead {
				_ = m.store.Mutate(id, func(desc *registry.Descriptor) {
					desc.Status = registry.StatusDead
					desc.Breaker.State = registry.BreakerOpen
					desc.Breaker.OpenUntil = now.Add(24 * time.Hour) // cleared by next heartbeat
				})
				logging.Warn("Health", "MCP %s missed hard TTL (%s), marked dead, breaker forced open", id, age)
			}
		case age >= m.cfg.SoftTTL:
			if d.Status == registry.StatusActive || d.Status == registry.StatusDegraded {
				_ = m.store.Mutate(id, func(desc *registry.Descriptor) {
					desc.Status = registry.StatusSuspect
				})
				logging.Info("Health", "MCP %s missed soft TTL (%s), marked suspect", id, age)
			}
		}
	}
}

// Run blocks, sweeping every cfg.SweepInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
