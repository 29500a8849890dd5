package routing

import (
	"sort"

	"coordinator/internal/registry"
)

// Engine selects an ordered list of candidate MCPs for a Request, over a
// point-in-time registry snapshot, by filtering, tier-splitting, scoring,
// and tie-breaking the live registry.
type Engine struct {
	store *registry.Store
}

// New creates an Engine bound to store.
func New(store *registry.Store) *Engine {
	return &Engine{store: store}
}

// candidate pairs a descriptor with its computed score for one selection
// pass, kept only for the duration of Select.
type candidate struct {
	desc  registry.Descriptor
	score float64
}

// Exclusion records a candidate the engine left out of the result for a
// reason a caller may want to surface (e.g. to a dispatch trail), as
// opposed to candidates that simply never matched the request.
type Exclusion struct {
	MCPID  string
	Reason string
}

// Select returns an ordered list of candidate mcp_ids, highest-scored
// first, never empty unless zero MCPs would satisfy the request in any
// tier. Selection is deterministic given (registry snapshot, req, wall
// clock) — it takes no lock beyond the registry's own snapshot reads.
func (e *Engine) Select(req Request) []string {
	ids, _ := e.selectWithExclusions(req)
	return ids
}

// SelectWithExclusions behaves like Select but also reports candidates
// that matched the request's workflow/capabilities/attempted-set but were
// filtered out by an open breaker, so a dispatch trail can record them.
func (e *Engine) SelectWithExclusions(req Request) ([]string, []Exclusion) {
	return e.selectWithExclusions(req)
}

func (e *Engine) selectWithExclusions(req Request) ([]string, []Exclusion) {
	all := e.store.List(registry.Filter{})

	// Step 1: filter.
	var excluded []Exclusion
	filtered := make([]registry.Descriptor, 0, len(all))
	for _, d := range all {
		if !d.SupportsWorkflow(req.WorkflowTag) {
			continue
		}
		if !d.HasAllCapabilities(req.CapabilityTags) {
			continue
		}
		// Step 6: attempted exclusion.
		if req.attempted(d.ID) {
			continue
		}
		if ok, reason := d.SelectableReason(); !ok {
			if reason == registry.ExclusionBreakerOpen {
				excluded = append(excluded, Exclusion{MCPID: d.ID, Reason: reason})
			}
			continue
		}
		filtered = append(filtered, d)
	}

	// Step 2: tier split.
	var nonFallback, fallback []registry.Descriptor
	for _, d := range filtered {
		if d.PriorityTier == registry.TierFallback {
			fallback = append(fallback, d)
		} else {
			nonFallback = append(nonFallback, d)
		}
	}

	// Step 5: the fallback tier is considered only when the non-fallback
	// tier is empty post-filter — "fallback only when all else failed." A
	// cascade reaches it once every non-fallback candidate has been
	// attempted or filtered out.
	candidates := make([]candidate, 0, len(filtered))
	for _, d := range nonFallback {
		candidates = append(candidates, candidate{desc: d, score: scoreOne(d, req)})
	}
	if len(nonFallback) == 0 {
		for _, d := range fallback {
			candidates = append(candidates, candidate{desc: d, score: scoreOne(d, req)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.desc.ID
	}
	return out, excluded
}

// scoreOne computes step 3's weighted score for a single descriptor.
func scoreOne(d registry.Descriptor, req Request) float64 {
	var score float64

	if workflowExactMatch(d, req.WorkflowTag) {
		score += 40
	}

	if len(req.CapabilityTags) > 0 {
		score += 30
		extra := len(d.Capabilities) - len(req.CapabilityTags)
		if extra > 0 {
			score -= 5 * float64(extra)
		}
	}

	score += 20 * d.PerfWindow.SuccessRate()
	score += 10 * (1 - clamp01(d.PerfWindow.EWMALoad))

	if d.Status == registry.StatusDegraded {
		score -= 5
	}

	switch d.PriorityTier {
	case registry.TierHigh:
		score += 15
	case registry.TierMedium:
		score += 5
	}

	return score
}

func workflowExactMatch(d registry.Descriptor, workflow string) bool {
	if workflow == "" {
		return false
	}
	for _, w := range d.WorkflowsSupported {
		if w == workflow {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// less implements step 4's tie-break: higher score first, then lower
// average latency, then earlier registered_at, then lexicographic id.
func less(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.desc.PerfWindow.AvgLatencyMs != b.desc.PerfWindow.AvgLatencyMs {
		return a.desc.PerfWindow.AvgLatencyMs < b.desc.PerfWindow.AvgLatencyMs
	}
	if !a.desc.RegisteredAt.Equal(b.desc.RegisteredAt) {
		return a.desc.RegisteredAt.Before(b.desc.RegisteredAt)
	}
	return a.desc.ID < b.desc.ID
}
