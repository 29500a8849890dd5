// Package httpapi is the chi-based HTTP transport binding every subsystem
// to the coordinator's external interfaces.
package httpapi

import (
	"encoding/json"
	"net/http"

	"coordinator/pkg/logging"
)

// Envelope is the unified `{ok, data?, error?{kind,message,details?}}`
// response shape every endpoint returns.
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  interface{}    `json:"data,omitempty"`
	Error *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError is the error arm of an Envelope.
type EnvelopeError struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RespondOK writes a successful envelope.
func RespondOK(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, Envelope{OK: true, Data: data})
}

// RespondErr writes a failure envelope with the given HTTP status and a
// stable, closed error kind suitable for programmatic branching.
func RespondErr(w http.ResponseWriter, status int, kind, message string, details interface{}) {
	writeEnvelope(w, status, Envelope{OK: false, Error: &EnvelopeError{Kind: kind, Message: message, Details: details}})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logging.Error("HTTPAPI", err, "Failed to encode response envelope")
	}
}
