package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coordinator/internal/logpipeline"
)

func newTestStore(t *testing.T) *logpipeline.Store {
	t.Helper()
	store, err := logpipeline.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func putRecord(t *testing.T, store *logpipeline.Store, r logpipeline.Record) {
	t.Helper()
	require.NoError(t, store.Put(r))
}

func TestHistory_FiltersByMCPAndPaginates(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	putRecord(t, store, logpipeline.Record{InteractionID: "i1", MCPID: "mcp-a", StartTS: now.Add(-3 * time.Minute), State: logpipeline.StateCompleted})
	putRecord(t, store, logpipeline.Record{InteractionID: "i2", MCPID: "mcp-b", StartTS: now.Add(-2 * time.Minute), State: logpipeline.StateCompleted})
	putRecord(t, store, logpipeline.Record{InteractionID: "i3", MCPID: "mcp-a", StartTS: now.Add(-1 * time.Minute), State: logpipeline.StateStarted})

	api := New(store)

	records, err := api.History(HistoryFilter{MCPID: "mcp-a"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "i3", records[0].InteractionID) // most recent first
	require.Equal(t, "i1", records[1].InteractionID)

	paged, err := api.History(HistoryFilter{MCPID: "mcp-a", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, "i1", paged[0].InteractionID)
}

func TestHistory_OffsetBeyondLengthReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	putRecord(t, store, logpipeline.Record{InteractionID: "i1", MCPID: "mcp-a", StartTS: time.Now(), State: logpipeline.StateCompleted})

	api := New(store)
	records, err := api.History(HistoryFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestMetrics_AggregatesTerminalRecordsWithinWindow(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	putRecord(t, store, logpipeline.Record{
		InteractionID: "i1", MCPID: "mcp-a",
		StartTS: now.Add(-10 * time.Minute), EndTS: now.Add(-10*time.Minute + 100*time.Millisecond),
		State: logpipeline.StateCompleted,
	})
	putRecord(t, store, logpipeline.Record{
		InteractionID: "i2", MCPID: "mcp-a",
		StartTS: now.Add(-5 * time.Minute), EndTS: now.Add(-5*time.Minute + 300*time.Millisecond),
		State: logpipeline.StateFailed,
	})
	// in-flight, should not count toward terminal aggregates
	putRecord(t, store, logpipeline.Record{InteractionID: "i3", MCPID: "mcp-a", StartTS: now.Add(-time.Minute), State: logpipeline.StateInProgress})
	// outside the 1h window
	putRecord(t, store, logpipeline.Record{
		InteractionID: "i4", MCPID: "mcp-a",
		StartTS: now.Add(-2 * time.Hour), EndTS: now.Add(-2*time.Hour + 50*time.Millisecond),
		State: logpipeline.StateCompleted,
	})

	api := New(store)
	m, err := api.Metrics(MetricsFilter{MCPID: "mcp-a", Window: Window1h})
	require.NoError(t, err)

	require.Equal(t, 2, m.Count)
	require.InDelta(t, 0.5, m.SuccessRate, 0.001)
	require.InDelta(t, 0.5, m.ErrorRate, 0.001)
	require.InDelta(t, 100, m.MinLatencyMs, 1)
	require.InDelta(t, 300, m.MaxLatencyMs, 1)
}

func TestMetrics_InvalidWindowRejected(t *testing.T) {
	store := newTestStore(t)
	api := New(store)
	_, err := api.Metrics(MetricsFilter{Window: "nonsense"})
	require.Error(t, err)
}

func TestMetrics_NoRecordsYieldsZeroValueMetrics(t *testing.T) {
	store := newTestStore(t)
	api := New(store)
	m, err := api.Metrics(MetricsFilter{Window: Window24h})
	require.NoError(t, err)
	require.Equal(t, Metrics{}, m)
}
