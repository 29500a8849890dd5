// Package query implements the read-only Query API: interaction
// history and windowed per-MCP performance metrics, computed on read over
// the Log Processor's durable store.
package query

import (
	"fmt"
	"sort"
	"time"

	"coordinator/internal/logpipeline"
)

// Window is the closed set of metrics aggregation windows.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

func (w Window) duration() (time.Duration, error) {
	switch w {
	case Window1h:
		return time.Hour, nil
	case Window24h:
		return 24 * time.Hour, nil
	case Window7d:
		return 7 * 24 * time.Hour, nil
	case Window30d:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid window %q", w)
	}
}

// HistoryFilter narrows a History call.
type HistoryFilter struct {
	MCPID    string
	ClientID string
	Limit    int
	Offset   int
}

// Metrics is the windowed per-MCP performance aggregate.
type Metrics struct {
	Count         int     `json:"count"`
	SuccessRate   float64 `json:"success_rate"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
}

// API serves read-only queries over the durable interaction store. It
// takes no lock of its own — every call re-scans the store at call time,
// so results reflect store state at that instant with no snapshot
// isolation guarantee beyond that.
type API struct {
	store *logpipeline.Store
}

// New creates an API bound to store.
func New(store *logpipeline.Store) *API {
	return &API{store: store}
}

// History returns terminal and in-flight interaction records matching
// filter, most recent first, paginated by limit/offset.
func (a *API) History(filter HistoryFilter) ([]logpipeline.Record, error) {
	all, err := a.store.ScanSince(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("scanning store: %w", err)
	}

	matched := make([]logpipeline.Record, 0, len(all))
	for _, r := range all {
		if filter.MCPID != "" && r.MCPID != filter.MCPID {
			continue
		}
		if filter.ClientID != "" && r.ClientID != filter.ClientID {
			continue
		}
		matched = append(matched, r)
	}

	sortByStartDesc(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	start := filter.Offset
	if start > len(matched) {
		return []logpipeline.Record{}, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// MetricsFilter narrows a Metrics call to one MCP, or every MCP if empty.
type MetricsFilter struct {
	MCPID  string
	Window Window
}

// Metrics computes count/success_rate/error_rate/latency aggregates over
// terminal interactions within the window.
func (a *API) Metrics(filter MetricsFilter) (Metrics, error) {
	dur, err := filter.Window.duration()
	if err != nil {
		return Metrics{}, err
	}
	since := time.Now().Add(-dur)

	records, err := a.store.ScanSince(since)
	if err != nil {
		return Metrics{}, fmt.Errorf("scanning store: %w", err)
	}

	var (
		count, successes, failures int
		totalLatency               float64
		minLatency, maxLatency     float64
		first                      = true
	)

	for _, r := range records {
		if filter.MCPID != "" && r.MCPID != filter.MCPID {
			continue
		}
		if r.State != logpipeline.StateCompleted && r.State != logpipeline.StateFailed {
			continue
		}
		count++
		if r.State == logpipeline.StateCompleted {
			successes++
		} else {
			failures++
		}
		latency := float64(r.EndTS.Sub(r.StartTS).Milliseconds())
		totalLatency += latency
		if first || latency < minLatency {
			minLatency = latency
		}
		if first || latency > maxLatency {
			maxLatency = latency
		}
		first = false
	}

	m := Metrics{Count: count}
	if count > 0 {
		m.SuccessRate = float64(successes) / float64(count)
		m.ErrorRate = float64(failures) / float64(count)
		m.AvgLatencyMs = totalLatency / float64(count)
		m.MinLatencyMs = minLatency
		m.MaxLatencyMs = maxLatency
	}
	return m, nil
}

func sortByStartDesc(records []logpipeline.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTS.After(records[j].StartTS)
	})
}
