// Package auth implements the Credential Validator: static-table and
// HMAC bearer-token verification with a short-lived positive cache and
// token-bucket rate limiting on failed attempts.
package auth

import (
	"errors"
	"time"

	"coordinator/pkg/clock"
)

// ErrorKind is the closed set of credential validation failures.
type ErrorKind string

const (
	KindUnknownToken ErrorKind = "unknown_token"
	KindExpired      ErrorKind = "expired"
	KindDisabled     ErrorKind = "disabled"
	KindMalformed    ErrorKind = "malformed"
)

// ValidationError carries a classified credential failure.
type ValidationError struct {
	Kind ErrorKind
}

func (e *ValidationError) Error() string { return string(e.Kind) }

var (
	errUnknown   = &ValidationError{Kind: KindUnknownToken}
	errExpired   = &ValidationError{Kind: KindExpired}
	errDisabled  = &ValidationError{Kind: KindDisabled}
	errMalformed = &ValidationError{Kind: KindMalformed}
)

// Scope is a coarse operation-class scope a principal's token grants.
// This resolves the "auth scope model" Open Question: a flat scope set per
// token, no per-MCP or per-principal ACL beyond scope membership.
type Scope string

const (
	ScopeControlPlane Scope = "control_plane"
	ScopeDispatch     Scope = "dispatch"
	ScopeIngest       Scope = "ingest"
	ScopeQuery        Scope = "query"
)

// Principal is the authenticated identity recovered from a valid token.
type Principal struct {
	ID     string
	Scopes map[Scope]struct{}
}

// HasScope reports whether the principal's token grants scope.
func (p Principal) HasScope(scope Scope) bool {
	_, ok := p.Scopes[scope]
	return ok
}

// staticEntry is one row of the static token table.
type staticEntry struct {
	Principal string
	Scopes    []Scope
	ExpiresAt time.Time // zero means no expiry
	Disabled  bool
}

// Validator implements validate(token) -> {ok, principal}, backed by a
// static token table and/or stateless HMAC tokens, both fronted by a
// short-lived positive cache.
type Validator struct {
	clock      clock.Clock
	hmacSecret string
	static     map[string]staticEntry
	cache      *positiveCache
	limiter    *Limiter
}

// New creates a Validator. hmacSecret may be empty to disable HMAC-token
// support entirely (static-table-only deployments).
func New(c clock.Clock, hmacSecret string, cacheTTL time.Duration, limiter *Limiter) *Validator {
	return &Validator{
		clock:      c,
		hmacSecret: hmacSecret,
		static:     make(map[string]staticEntry),
		cache:      newPositiveCache(c, cacheTTL),
		limiter:    limiter,
	}
}

// AddStaticToken registers a static credential row.
func (v *Validator) AddStaticToken(token, principal string, scopes []Scope, expiresAt time.Time) {
	v.static[token] = staticEntry{Principal: principal, Scopes: scopes, ExpiresAt: expiresAt}
}

// RevokeStaticToken marks a static token disabled and clears it from the
// positive cache synchronously, so a revoked token is rejected on its
// very next use rather than surviving out the cache TTL.
func (v *Validator) RevokeStaticToken(token string) {
	if e, ok := v.static[token]; ok {
		e.Disabled = true
		v.static[token] = e
	}
	v.cache.evict(token)
}

// Validate checks token against the static table, falling back to HMAC
// verification, subject to source rate limiting on failures.
func (v *Validator) Validate(source, token string) (Principal, error) {
	if v.limiter != nil && !v.limiter.Allow(source) {
		return Principal{}, errRateLimited
	}

	if token == "" {
		return Principal{}, errMalformed
	}

	if p, ok := v.cache.get(token); ok {
		return p, nil
	}

	p, err := v.validateUncached(token)
	if err != nil {
		if v.limiter != nil {
			v.limiter.RecordFailure(source)
		}
		return Principal{}, err
	}

	v.cache.put(token, p)
	return p, nil
}

func (v *Validator) validateUncached(token string) (Principal, error) {
	if e, ok := v.static[token]; ok {
		if e.Disabled {
			return Principal{}, errDisabled
		}
		if !e.ExpiresAt.IsZero() && v.clock.Now().After(e.ExpiresAt) {
			return Principal{}, errExpired
		}
		return Principal{ID: e.Principal, Scopes: scopeSet(e.Scopes)}, nil
	}

	if v.hmacSecret == "" {
		return Principal{}, errUnknown
	}

	_, err := clock.VerifyToken(v.clock, token, v.hmacSecret)
	if err != nil {
		switch {
		case errors.Is(err, clock.ErrExpiredToken):
			return Principal{}, errExpired
		case errors.Is(err, clock.ErrMalformedToken):
			return Principal{}, errMalformed
		default:
			return Principal{}, errUnknown
		}
	}

	// HMAC tokens carry no static scope row; they grant every scope, since
	// the caller minted them specifically for a coordination-internal
	// handshake (e.g. an MCP's own heartbeat credential).
	return Principal{ID: "hmac:" + token[:11], Scopes: scopeSet([]Scope{
		ScopeControlPlane, ScopeDispatch, ScopeIngest, ScopeQuery,
	})}, nil
}

func scopeSet(scopes []Scope) map[Scope]struct{} {
	out := make(map[Scope]struct{}, len(scopes))
	for _, s := range scopes {
		out[s] = struct{}{}
	}
	return out
}
