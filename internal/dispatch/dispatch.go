// Package dispatch implements the Dispatcher: the outbound call to a
// chosen MCP, with per-call deadlines and normalized error classification.
// The cascade never lives here — candidate order comes from
// internal/routing and the dispatch HTTP handler walks it; a single
// dispatch never retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed set of dispatch failure classes.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindTransport         ErrorKind = "transport"
	KindRemoteError       ErrorKind = "remote_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindCanceled          ErrorKind = "canceled"
)

// DefaultDeadline is applied when a Request carries no deadline or one
// further out than this ceiling.
const DefaultDeadline = 30 * time.Second

// Request is the payload handed to a chosen MCP.
type Request struct {
	Tool      string
	Arguments map[string]interface{}
	Deadline  time.Time
}

// deadline returns min(req.Deadline, now+DefaultDeadline).
func (r Request) deadline() time.Time {
	ceiling := time.Now().Add(DefaultDeadline)
	if r.Deadline.IsZero() || r.Deadline.After(ceiling) {
		return ceiling
	}
	return r.Deadline
}

// Result is a successful dispatch outcome.
type Result struct {
	Payload   map[string]interface{}
	LatencyMs float64
}

// Error is a classified dispatch failure.
type Error struct {
	Kind          ErrorKind
	Err           error
	Deterministic bool // remote_error only: true means do not cascade
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport is the seam between the Dispatcher and a wire protocol client.
// The production implementation wraps mark3labs/mcp-go's StreamableHTTP
// client; tests substitute a deterministic fake so dispatch-layer logic
// (deadlines, classification) can be exercised without a network round
// trip.
type Transport interface {
	// Call invokes tool on the MCP reachable at endpoint and returns its
	// raw result payload, or an unclassified error for the Dispatcher to
	// classify.
	Call(ctx context.Context, endpoint, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// RemoteError is returned by a Transport to signal the call reached the MCP
// and the MCP itself reported a failure (as opposed to a transport-level
// failure). Deterministic marks errors like invalid input that will not
// succeed on retry against a different MCP either.
type RemoteError struct {
	Err           error
	Deterministic bool
}

func (e *RemoteError) Error() string { return e.Err.Error() }
func (e *RemoteError) Unwrap() error { return e.Err }

// MalformedResponseError signals the MCP's reply could not be parsed as a
// valid result shape.
type MalformedResponseError struct{ Err error }

func (e *MalformedResponseError) Error() string { return e.Err.Error() }
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Dispatcher performs a single outbound call to one MCP.
type Dispatcher struct {
	transport Transport
}

// New creates a Dispatcher bound to transport.
func New(transport Transport) *Dispatcher {
	return &Dispatcher{transport: transport}
}

// Dispatch calls endpoint with req, applying the deadline ceiling and
// classifying any failure into one of the dispatch error kinds. It never
// retries — cascading to another MCP is the Routing Engine's job.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, req Request) (Result, *Error) {
	start := time.Now()

	ctx, cancel := context.WithDeadline(ctx, req.deadline())
	defer cancel()

	payload, err := d.transport.Call(ctx, endpoint, req.Tool, req.Arguments)
	latency := float64(time.Since(start).Milliseconds())

	if err == nil {
		return Result{Payload: payload, LatencyMs: latency}, nil
	}

	return Result{}, classify(ctx, err)
}

// classify maps a raw Transport error onto the dispatch error taxonomy.
func classify(ctx context.Context, err error) *Error {
	var remoteErr *RemoteError
	var malformedErr *MalformedResponseError

	switch {
	case errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.As(err, &remoteErr):
		return &Error{Kind: KindRemoteError, Err: remoteErr.Err, Deterministic: remoteErr.Deterministic}
	case errors.As(err, &malformedErr):
		return &Error{Kind: KindMalformedResponse, Err: malformedErr.Err}
	default:
		return &Error{Kind: KindTransport, Err: err}
	}
}
