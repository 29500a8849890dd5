package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordinator/internal/registry"
	"coordinator/pkg/clock"
)

func newTestStore() *registry.Store {
	return registry.New(clock.Real{}, &clock.SequentialGenerator{})
}

func register(t *testing.T, store *registry.Store, req registry.Request) string {
	t.Helper()
	id, err := store.Register(req)
	require.NoError(t, err)
	return id
}

func TestSelect_FiltersDeadAndBreakerOpen(t *testing.T) {
	store := newTestStore()
	good := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://a", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	dead := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://b", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	require.NoError(t, store.Mutate(dead, func(d *registry.Descriptor) {
		d.Status = registry.StatusDead
		d.Breaker.State = registry.BreakerOpen
	}))

	e := New(store)
	ids := e.Select(Request{CapabilityTags: []string{"ocr"}})
	assert.Equal(t, []string{good}, ids)
}

func TestSelect_FallbackOnlyWhenNonFallbackEmpty(t *testing.T) {
	store := newTestStore()
	fb := register(t, store, registry.Request{
		Kind: registry.KindFallbackCreator, Endpoint: "http://fb", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierFallback,
	})

	e := New(store)
	ids := e.Select(Request{CapabilityTags: []string{"ocr"}})
	require.Equal(t, []string{fb}, ids)

	primary := register(t, store, registry.Request{
		Kind: registry.KindWorkflowPrimary, Endpoint: "http://p", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierHigh,
	})
	ids = e.Select(Request{CapabilityTags: []string{"ocr"}})
	require.Len(t, ids, 1)
	assert.Equal(t, primary, ids[0], "non-fallback tier must be selected once populated")
	assert.NotContains(t, ids, fb, "fallback must not appear while a non-fallback candidate is selectable")
}

func TestSelect_AttemptedExclusion(t *testing.T) {
	store := newTestStore()
	a := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://a", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	b := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://b", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})

	e := New(store)
	ids := e.Select(Request{CapabilityTags: []string{"ocr"}, AttemptedMCPs: []string{a}})
	assert.Equal(t, []string{b}, ids)
}

func TestSelect_TieBreakOnLatency(t *testing.T) {
	store := newTestStore()
	slow := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://slow", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	fast := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://fast", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	require.NoError(t, store.Mutate(slow, func(d *registry.Descriptor) {
		d.PerfWindow.AvgLatencyMs = 500
	}))
	require.NoError(t, store.Mutate(fast, func(d *registry.Descriptor) {
		d.PerfWindow.AvgLatencyMs = 50
	}))

	e := New(store)
	ids := e.Select(Request{})
	require.Len(t, ids, 2)
	assert.Equal(t, fast, ids[0])
	assert.Equal(t, slow, ids[1])
}

func TestSelect_WorkflowMismatchExcluded(t *testing.T) {
	store := newTestStore()
	register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://a", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"invoice_ocr"}, PriorityTier: registry.TierMedium,
	})

	e := New(store)
	ids := e.Select(Request{WorkflowTag: "credit_check"})
	assert.Empty(t, ids)
}

func TestSelectWithExclusions_ReportsBreakerOpen(t *testing.T) {
	store := newTestStore()
	good := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://a", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	open := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://b", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	require.NoError(t, store.Mutate(open, func(d *registry.Descriptor) {
		d.Breaker.State = registry.BreakerOpen
	}))

	e := New(store)
	ids, excluded := e.SelectWithExclusions(Request{CapabilityTags: []string{"ocr"}})
	assert.Equal(t, []string{good}, ids)
	require.Len(t, excluded, 1)
	assert.Equal(t, open, excluded[0].MCPID)
	assert.Equal(t, registry.ExclusionBreakerOpen, excluded[0].Reason)
}

func TestSelectWithExclusions_DeadStatusNotReportedAsExclusion(t *testing.T) {
	store := newTestStore()
	dead := register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://a", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	require.NoError(t, store.Mutate(dead, func(d *registry.Descriptor) {
		d.Status = registry.StatusDead
	}))

	e := New(store)
	ids, excluded := e.SelectWithExclusions(Request{CapabilityTags: []string{"ocr"}})
	assert.Empty(t, ids)
	assert.Empty(t, excluded, "a dead MCP is excluded silently, not reported as a recoverable exclusion")
}

func TestSelect_Deterministic(t *testing.T) {
	store := newTestStore()
	register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://a", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})
	register(t, store, registry.Request{
		Kind: registry.KindAdapter, Endpoint: "http://b", Capabilities: []string{"ocr"},
		WorkflowsSupported: []string{"*"}, PriorityTier: registry.TierMedium,
	})

	e := New(store)
	req := Request{CapabilityTags: []string{"ocr"}, Deadline: time.Now().Add(time.Second)}
	first := e.Select(req)
	second := e.Select(req)
	assert.Equal(t, first, second)
}
