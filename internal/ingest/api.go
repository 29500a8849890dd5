package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"coordinator/pkg/clock"
)

// Request is the raw shape accepted by the Ingestion API before it is
// stamped into an Event.
type Request struct {
	Action        Action
	InteractionID string
	MCPID         string
	ClientID      string
	Principal     string
	Payload       map[string]interface{}
}

// Validate enforces the minimal shape every action requires.
func (r Request) Validate() error {
	if !r.Action.valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}
	if r.InteractionID == "" {
		return fmt.Errorf("interaction_id is required")
	}
	if r.Action == ActionStart && r.MCPID == "" {
		return fmt.Errorf("mcp_id is required for interaction_start")
	}
	return nil
}

// API accepts interaction events, validates and stamps them, and enqueues
// them for the Log Processor. It never applies events itself — ordering
// and state transitions are the Log Processor's job.
type API struct {
	clock clock.Clock
	queue *Queue
}

// New creates an API bound to queue.
func New(c clock.Clock, queue *Queue) *API {
	return &API{clock: c, queue: queue}
}

// Accept validates req, stamps it with the server-received timestamp and
// principal hash, and enqueues it. Returns ErrUnavailable only when the
// queue is still full after the back-pressure wait; otherwise always
// accepts (it does not wait for processing).
func (a *API) Accept(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	evt := Event{
		Action:        req.Action,
		InteractionID: req.InteractionID,
		MCPID:         req.MCPID,
		ClientID:      req.ClientID,
		ReceivedAt:    a.clock.Now(),
		PrincipalHash: hashPrincipal(req.Principal),
		Payload:       req.Payload,
	}

	return a.queue.Enqueue(ctx, evt)
}

// hashPrincipal returns a stable, non-reversible digest of a principal id
// for storage in the Interaction Record, so the record carries provenance
// without retaining the raw credential/principal string.
func hashPrincipal(principal string) string {
	sum := sha256.Sum256([]byte(principal))
	return hex.EncodeToString(sum[:])[:16]
}
