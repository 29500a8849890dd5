package httpapi

import (
	"net/http"

	"coordinator/internal/health"
	"coordinator/internal/registry"
)

// registerRequest is the wire shape of POST /api/v1/register.
type registerRequest struct {
	Kind               string            `json:"kind" validate:"required,oneof=workflow_primary adapter fallback_creator ai_assistant tool_engine"`
	Endpoint           string            `json:"endpoint" validate:"required"`
	Capabilities       []string          `json:"capabilities" validate:"required,min=1"`
	WorkflowsSupported []string          `json:"workflows_supported" validate:"required,min=1"`
	PriorityTier       string            `json:"priority_tier" validate:"required,oneof=high medium fallback"`
	DeclaredVersion    string            `json:"declared_version"`
	MaxConcurrent      int               `json:"max_concurrent"`
	Metadata           map[string]string `json:"metadata"`
}

type registerResponseConfig struct {
	HeartbeatPeriodS  int    `json:"heartbeat_period_s"`
	IngestionEndpoint string `json:"ingestion_endpoint"`
}

type registerResponse struct {
	MCPID  string                 `json:"mcp_id"`
	Config registerResponseConfig `json:"config"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	id, err := s.deps.ControlPlane.Register(registry.Request{
		Kind:               registry.Kind(req.Kind),
		Endpoint:           req.Endpoint,
		Capabilities:       req.Capabilities,
		WorkflowsSupported: req.WorkflowsSupported,
		PriorityTier:       registry.PriorityTier(req.PriorityTier),
		DeclaredVersion:    req.DeclaredVersion,
		MaxConcurrent:      req.MaxConcurrent,
		Metadata:           req.Metadata,
	})
	if err != nil {
		RespondErr(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	RespondOK(w, http.StatusOK, registerResponse{
		MCPID: id,
		Config: registerResponseConfig{
			HeartbeatPeriodS:  15,
			IngestionEndpoint: "/api/v2/interactions",
		},
	})
}

type deregisterRequest struct {
	MCPID string `json:"mcp_id" validate:"required"`
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := s.deps.ControlPlane.Deregister(req.MCPID); err != nil {
		RespondErr(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	RespondOK(w, http.StatusOK, map[string]bool{"deregistered": true})
}

type heartbeatMetrics struct {
	Load     float64 `json:"load"`
	Inflight int     `json:"inflight"`
	Degraded bool    `json:"degraded"`
}

type heartbeatRequest struct {
	MCPID   string            `json:"mcp_id" validate:"required"`
	Metrics *heartbeatMetrics `json:"metrics"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	var m health.Metrics
	if req.Metrics != nil {
		m = health.Metrics{Load: req.Metrics.Load, Inflight: req.Metrics.Inflight, Degraded: req.Metrics.Degraded}
	}

	if err := s.deps.ControlPlane.Heartbeat(req.MCPID, m); err != nil {
		RespondErr(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	RespondOK(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Kind:         registry.Kind(r.URL.Query().Get("kind")),
		Status:       registry.Status(r.URL.Query().Get("status")),
		PriorityTier: registry.PriorityTier(r.URL.Query().Get("priority_tier")),
	}
	RespondOK(w, http.StatusOK, s.deps.ControlPlane.GetRegistry(filter))
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	mcpID := r.URL.Query().Get("mcp_id")
	if mcpID == "" {
		RespondOK(w, http.StatusOK, s.deps.ControlPlane.GetStats())
		return
	}
	d, err := s.deps.ControlPlane.GetHealth(mcpID)
	if err != nil {
		RespondErr(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	RespondOK(w, http.StatusOK, d)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	RespondOK(w, http.StatusOK, s.deps.ControlPlane.GetStats())
}
