// Package controlplane implements the Control Plane API:
// register/deregister/heartbeat/get_registry/get_health/get_stats,
// orchestrating the registry, health monitor, and routing engine behind
// one facade.
package controlplane

import (
	"fmt"

	"coordinator/internal/health"
	"coordinator/internal/registry"
	"coordinator/internal/routing"
)

// API is the Control Plane facade.
type API struct {
	store   *registry.Store
	health  *health.Monitor
	routing *routing.Engine
}

// New creates an API bound to the given subsystems.
func New(store *registry.Store, h *health.Monitor, r *routing.Engine) *API {
	return &API{store: store, health: h, routing: r}
}

// Register admits a new MCP descriptor, or idempotently refreshes an
// existing one re-registering within the grace window.
func (a *API) Register(req registry.Request) (string, error) {
	return a.store.Register(req)
}

// Deregister removes an MCP. In-flight dispatches complete; no new
// dispatches select it.
func (a *API) Deregister(mcpID string) error {
	return a.store.Deregister(mcpID)
}

// Heartbeat is the highest-rate write and stays lock-light end to end:
// it delegates straight to the Health Monitor's per-entry mutation.
func (a *API) Heartbeat(mcpID string, metrics health.Metrics) error {
	return a.health.Heartbeat(mcpID, metrics)
}

// GetRegistry returns a snapshot of every registered MCP matching filter.
func (a *API) GetRegistry(filter registry.Filter) []registry.Descriptor {
	return a.store.List(filter)
}

// GetHealth returns a single MCP's current descriptor, for admin
// introspection of its liveness/breaker state.
func (a *API) GetHealth(mcpID string) (registry.Descriptor, error) {
	d, ok := a.store.Get(mcpID)
	if !ok {
		return registry.Descriptor{}, fmt.Errorf("mcp %s not found", mcpID)
	}
	return d, nil
}

// Stats is the admin introspection summary get_stats returns.
type Stats struct {
	TotalMCPs      int            `json:"total_mcps"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriorityTier map[string]int `json:"by_priority_tier"`
}

// GetStats aggregates the current registry into counts by status and
// priority tier.
func (a *API) GetStats() Stats {
	all := a.store.List(registry.Filter{})
	stats := Stats{
		TotalMCPs:      len(all),
		ByStatus:       make(map[string]int),
		ByPriorityTier: make(map[string]int),
	}
	for _, d := range all {
		stats.ByStatus[string(d.Status)]++
		stats.ByPriorityTier[string(d.PriorityTier)]++
	}
	return stats
}

// Route exposes the Routing Engine's candidate selection through the same
// facade, for the dispatch HTTP surface. The second return value carries
// candidates that were otherwise eligible but skipped because their
// breaker is open, so the dispatch cascade can record them in its trail.
func (a *API) Route(req routing.Request) ([]string, []routing.Exclusion) {
	return a.routing.SelectWithExclusions(req)
}

// ReportOutcome folds a dispatch outcome observed directly by the
// Dispatcher into the owning MCP's perf_window — the same counters a
// terminal interaction event updates from the log pipeline side, but fed
// by the worker that actually made the call.
func (a *API) ReportOutcome(mcpID string, success bool, latencyMs float64) error {
	return a.store.Mutate(mcpID, func(d *registry.Descriptor) {
		if success {
			d.PerfWindow.ObserveSuccess(latencyMs)
		} else {
			d.PerfWindow.ObserveFailure()
		}
	})
}
