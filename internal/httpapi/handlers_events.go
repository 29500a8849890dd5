package httpapi

import (
	"net/http"
	"strconv"

	"coordinator/internal/ingest"
	"coordinator/internal/query"
)

// interactionRequest is the wire shape of POST /api/v2/interactions: one of
// the four action shapes, distinguished by "action".
type interactionRequest struct {
	Action        string                 `json:"action" validate:"required,oneof=interaction_start interaction_progress interaction_complete interaction_error"`
	InteractionID string                 `json:"interaction_id" validate:"required"`
	MCPID         string                 `json:"mcp_id"`
	ClientID      string                 `json:"client_id"`
	Payload       map[string]interface{} `json:"payload"`
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	err := s.deps.Ingest.Accept(r.Context(), ingest.Request{
		Action:        ingest.Action(req.Action),
		InteractionID: req.InteractionID,
		MCPID:         req.MCPID,
		ClientID:      req.ClientID,
		Principal:     principal.ID,
		Payload:       req.Payload,
	})
	if err != nil {
		if err == ingest.ErrUnavailable {
			RespondErr(w, http.StatusServiceUnavailable, "unavailable", "interaction queue is full", nil)
			return
		}
		RespondErr(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	queuedPosition := 0
	if s.deps.IngestQueue != nil {
		queuedPosition = s.deps.IngestQueue.Len()
	}
	RespondOK(w, http.StatusAccepted, map[string]interface{}{"accepted": true, "queued_position": queuedPosition})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	records, err := s.deps.Query.History(query.HistoryFilter{
		MCPID: q.Get("mcp_id"), ClientID: q.Get("client_id"), Limit: limit, Offset: offset,
	})
	if err != nil {
		RespondErr(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	RespondOK(w, http.StatusOK, records)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := q.Get("window")
	if window == "" {
		window = "1h"
	}

	m, err := s.deps.Query.Metrics(query.MetricsFilter{MCPID: q.Get("mcp_id"), Window: query.Window(window)})
	if err != nil {
		RespondErr(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	RespondOK(w, http.StatusOK, m)
}
