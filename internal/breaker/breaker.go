// Package breaker wraps sony/gobreaker with one circuit per MCP id, adding
// a cooldown that doubles each time a half-open probe fails.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"coordinator/pkg/logging"
)

// Config controls the breaker's trip threshold and cooldown behavior.
type Config struct {
	FailureThreshold uint          // consecutive failures before opening (default 5)
	Window           time.Duration // window over which failures count (default 60s)
	BaseCooldown     time.Duration // initial open->half_open cooldown (default 30s)
	MaxCooldown      time.Duration // cap on doubling (default 5m)
}

// DefaultConfig returns the coordinator's documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		BaseCooldown:     30 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

// StateChangeFunc is notified whenever a per-MCP breaker transitions state,
// so the registry's denormalized breaker mirror can be updated.
type StateChangeFunc func(mcpID string, state gobreaker.State, openUntil time.Time)

// circuit tracks one MCP's breaker instance and its current cooldown,
// since gobreaker.CircuitBreaker's Timeout is fixed at construction but the
// cooldown must double on each failed half-open probe.
type circuit struct {
	mu       sync.Mutex
	cb       *gobreaker.CircuitBreaker
	cooldown time.Duration
}

// Manager owns one circuit per MCP id.
type Manager struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      Config
	onChange StateChangeFunc
}

// NewManager creates a Manager. onChange may be nil.
func NewManager(cfg Config, onChange StateChangeFunc) *Manager {
	return &Manager{
		circuits: make(map[string]*circuit),
		cfg:      cfg,
		onChange: onChange,
	}
}

func (m *Manager) getOrCreate(mcpID string) *circuit {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.circuits[mcpID]; ok {
		return c
	}
	c := &circuit{cooldown: m.cfg.BaseCooldown}
	c.cb = m.newBreaker(mcpID, c.cooldown)
	m.circuits[mcpID] = c
	return c
}

func (m *Manager) newBreaker(mcpID string, cooldown time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        mcpID,
		MaxRequests: 1, // a single probe call while half_open
		Interval:    m.cfg.Window,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var openUntil time.Time
			if to == gobreaker.StateOpen {
				openUntil = time.Now().Add(cooldown)
			}
			logging.Info("Breaker", "MCP %s breaker %s -> %s", name, from, to)
			if m.onChange != nil {
				m.onChange(name, to, openUntil)
			}
		},
	})
}

// State reports the current state of an MCP's breaker without attempting a
// call. Unknown MCPs are reported closed (no failures observed yet).
func (m *Manager) State(mcpID string) gobreaker.State {
	c := m.getOrCreate(mcpID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb.State()
}

// Allow reports whether a dispatch to mcpID is currently permitted by its
// breaker (closed, or half_open admitting a probe).
func (m *Manager) Allow(mcpID string) bool {
	return m.State(mcpID) != gobreaker.StateOpen
}

// Outcome is fed back to the breaker after a dispatch attempt completes.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Report records a dispatch outcome against mcpID's breaker. The first trip
// (closed -> open) needs no rebuild: the breaker was already constructed
// with the current cooldown as its Timeout. Only a failed half-open probe
// doubles the cooldown for the *next* open period, capped at
// cfg.MaxCooldown: gobreaker has no API to vary Timeout on a live breaker,
// so reopening with a longer window means rebuilding it with the new
// Timeout, then re-tripping the fresh (closed) breaker with synthetic
// failures so it reports Open immediately rather than waiting for real
// traffic to retrip it. A failure reported while already open (the call is
// rejected with ErrOpenState without running) is a no-op: it must not
// rebuild the breaker and reset its open timer.
func (m *Manager) Report(ctx context.Context, mcpID string, outcome Outcome) {
	c := m.getOrCreate(mcpID)

	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.cb.State()

	_, _ = c.cb.Execute(func() (interface{}, error) {
		if outcome == Failure {
			return nil, errFailure
		}
		return nil, nil
	})

	to := c.cb.State()

	switch {
	case to == gobreaker.StateOpen && from == gobreaker.StateHalfOpen:
		c.cooldown *= 2
		if c.cooldown > m.cfg.MaxCooldown {
			c.cooldown = m.cfg.MaxCooldown
		}
		c.cb = m.newBreaker(mcpID, c.cooldown)
		retrip(c.cb, m.cfg.FailureThreshold)
	case to == gobreaker.StateClosed:
		c.cooldown = m.cfg.BaseCooldown
	}
}

// retrip feeds synthetic failures to a freshly rebuilt (and therefore
// closed) breaker until ReadyToTrip fires, so it opens immediately under
// its new Timeout instead of waiting for the next real dispatch failures.
func retrip(cb *gobreaker.CircuitBreaker, threshold uint) {
	for i := uint(0); i < threshold; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errFailure })
	}
}

var errFailure = &breakerFailure{}

type breakerFailure struct{}

func (*breakerFailure) Error() string { return "dispatch failure" }
