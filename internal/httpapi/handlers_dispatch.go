package httpapi

import (
	"context"
	"net/http"
	"time"

	"coordinator/internal/breaker"
	"coordinator/internal/dispatch"
	"coordinator/internal/routing"
	"coordinator/pkg/logging"
)

// dispatchRequest is the wire shape of POST /api/v1/dispatch/.
type dispatchRequest struct {
	Workflow     string                 `json:"workflow"`
	Capabilities []string               `json:"capabilities"`
	Payload      map[string]interface{} `json:"payload" validate:"required"`
	DeadlineMs   int64                  `json:"deadline_ms"`
}

type dispatchTrailEntry struct {
	MCPID     string `json:"mcp_id"`
	ErrorKind string `json:"error_kind"`
}

type dispatchSuccess struct {
	MCPID  string                 `json:"mcp_id"`
	Result map[string]interface{} `json:"result"`
}

// handleDispatch runs the full routing-to-dispatch cascade: select
// candidates, dispatch to each in order, and on failure escalate to the
// next candidate, never retrying a single MCP directly.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	deadline := time.Time{}
	if req.DeadlineMs > 0 {
		deadline = time.Now().Add(time.Duration(req.DeadlineMs) * time.Millisecond)
	}

	routingReq := routing.Request{WorkflowTag: req.Workflow, CapabilityTags: req.Capabilities, Deadline: deadline}
	trail := make([]dispatchTrailEntry, 0, 3)
	excludedSeen := make(map[string]bool)

	for attempt := 0; attempt < 8; attempt++ {
		candidates, excluded := s.deps.ControlPlane.Route(routingReq)
		for _, ex := range excluded {
			if excludedSeen[ex.MCPID] {
				continue
			}
			excludedSeen[ex.MCPID] = true
			trail = append(trail, dispatchTrailEntry{MCPID: ex.MCPID, ErrorKind: ex.Reason})
		}
		if len(candidates) == 0 {
			if len(trail) == 0 {
				RespondErr(w, http.StatusServiceUnavailable, "no_candidate_available", "no MCP satisfies the requested workflow/capabilities", trail)
				return
			}
			RespondErr(w, http.StatusServiceUnavailable, "no_candidate_succeeded", "every candidate MCP failed", trail)
			return
		}

		mcpID := candidates[0]
		desc, err := s.deps.ControlPlane.GetHealth(mcpID)
		if err != nil {
			routingReq.AttemptedMCPs = append(routingReq.AttemptedMCPs, mcpID)
			continue
		}

		res, derr := s.deps.Dispatcher.Dispatch(r.Context(), desc.Endpoint, dispatch.Request{
			Tool: req.Workflow, Arguments: req.Payload, Deadline: deadline,
		})
		if derr == nil {
			s.reportDispatchOutcome(mcpID, true, res.LatencyMs, true)
			RespondOK(w, http.StatusOK, dispatchSuccess{MCPID: mcpID, Result: res.Payload})
			return
		}

		trail = append(trail, dispatchTrailEntry{MCPID: mcpID, ErrorKind: string(derr.Kind)})
		breakerFailure := derr.Kind == dispatch.KindTimeout || derr.Kind == dispatch.KindTransport
		s.reportDispatchOutcome(mcpID, false, 0, breakerFailure)

		if derr.Kind == dispatch.KindRemoteError && derr.Deterministic {
			RespondErr(w, http.StatusBadRequest, "remote_error", derr.Error(), trail)
			return
		}

		routingReq.AttemptedMCPs = append(routingReq.AttemptedMCPs, mcpID)
	}

	RespondErr(w, http.StatusServiceUnavailable, "no_candidate_succeeded", "every candidate MCP failed", trail)
}

// reportDispatchOutcome feeds a dispatch outcome this handler directly
// observed back into the owning MCP's perf_window and, for timeout/
// transport failures (or any success), its circuit breaker — the same
// counters the Log Processor updates from client-posted terminal events,
// but fed by the worker that made the call. A deterministic remote error
// reflects on the request, not the MCP's health, so it never reports a
// breaker failure.
func (s *Server) reportDispatchOutcome(mcpID string, success bool, latencyMs float64, breakerEligible bool) {
	if err := s.deps.ControlPlane.ReportOutcome(mcpID, success, latencyMs); err != nil {
		logging.Warn("HTTPAPI", "Failed to record perf_window outcome for MCP %s: %v", mcpID, err)
	}
	if s.deps.Breakers == nil || (!success && !breakerEligible) {
		return
	}
	outcome := breaker.Failure
	if success {
		outcome = breaker.Success
	}
	s.deps.Breakers.Report(context.Background(), mcpID, outcome)
}
