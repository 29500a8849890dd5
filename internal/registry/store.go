package registry

import (
	"fmt"
	"sync"
	"time"

	"coordinator/pkg/clock"
	"coordinator/pkg/logging"
)

// RegistrationGrace is the window within which a re-registration on the
// same (endpoint, kind) is treated as idempotent. Outside it, Register
// creates a second, separate entry with a new id.
const RegistrationGrace = 60 * time.Second

// Store is the authoritative, process-wide map of MCP descriptors. Reads
// hold the map's shared read lock only long enough to look entries up,
// then copy each under its own per-entry lock; inserts and removals take
// the global write lock. Reads are not lock-free.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*entry
	byKey map[string]string // "kind|endpoint" -> id, for idempotent re-registration

	clock clock.Clock
	ids   clock.IDGenerator
}

// New creates an empty Store.
func New(c clock.Clock, ids clock.IDGenerator) *Store {
	return &Store{
		byID:  make(map[string]*entry),
		byKey: make(map[string]string),
		clock: c,
		ids:   ids,
	}
}

func idemKey(kind Kind, endpoint string) string {
	return string(kind) + "|" + endpoint
}

// Register inserts a new descriptor or, when the prior entry on the same
// (endpoint, kind) was registered or last heartbeated within
// RegistrationGrace, updates it idempotently and returns the existing id
// (property 1: registration idempotence).
func (s *Store) Register(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid registration: %w", err)
	}

	key := idemKey(req.Kind, req.Endpoint)
	now := s.clock.Now()

	s.mu.Lock()
	if existingID, ok := s.byKey[key]; ok {
		if e, ok := s.byID[existingID]; ok {
			e.mu.Lock()
			if now.Sub(e.desc.RegisteredAt) <= RegistrationGrace || now.Sub(e.desc.LastHeartbeat) <= RegistrationGrace {
				e.desc.DeclaredVersion = req.DeclaredVersion
				e.desc.PerfWindow = PerfWindow{}
				e.desc.Capabilities = append([]string(nil), req.Capabilities...)
				e.desc.WorkflowsSupported = append([]string(nil), req.WorkflowsSupported...)
				id := e.desc.ID
				e.mu.Unlock()
				s.mu.Unlock()
				logging.Info("Registry", "Idempotent re-registration for %s (%s)", id, req.Endpoint)
				return id, nil
			}
			e.mu.Unlock()
		}
	}
	s.mu.Unlock()

	id := s.ids.NewID("mcp")
	desc := Descriptor{
		ID:                 id,
		Kind:               req.Kind,
		Endpoint:           req.Endpoint,
		Capabilities:       append([]string(nil), req.Capabilities...),
		WorkflowsSupported: append([]string(nil), req.WorkflowsSupported...),
		PriorityTier:       req.PriorityTier,
		DeclaredVersion:    req.DeclaredVersion,
		MaxConcurrent:      req.MaxConcurrent,
		RegisteredAt:       now,
		LastHeartbeat:       now,
		Status:             StatusActive,
		Breaker:            BreakerInfo{State: BreakerClosed},
		Metadata:           req.Metadata,
	}
	if desc.MaxConcurrent <= 0 {
		desc.MaxConcurrent = 10
	}

	s.mu.Lock()
	s.byID[id] = &entry{desc: desc}
	s.byKey[key] = id
	s.mu.Unlock()

	logging.Info("Registry", "Registered MCP %s kind=%s endpoint=%s", id, req.Kind, req.Endpoint)
	return id, nil
}

// Deregister removes an MCP from the registry. In-flight dispatches are not
// interrupted; they simply will not see the entry on their next select().
func (s *Store) Deregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("mcp %s not found", id)
	}
	key := idemKey(e.desc.Kind, e.desc.Endpoint)
	delete(s.byID, id)
	delete(s.byKey, key)
	logging.Info("Registry", "Deregistered MCP %s", id)
	return nil
}

// Get returns a point-in-time copy of a single descriptor.
func (s *Store) Get(id string) (Descriptor, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Descriptor{}, false
	}
	return e.snapshot(), true
}

// Filter narrows a List call.
type Filter struct {
	Kind         Kind
	Status       Status
	PriorityTier PriorityTier
}

func (f Filter) matches(d Descriptor) bool {
	if f.Kind != "" && d.Kind != f.Kind {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.PriorityTier != "" && d.PriorityTier != f.PriorityTier {
		return false
	}
	return true
}

// List returns a snapshot copy of every descriptor matching filter.
func (s *Store) List(filter Filter) []Descriptor {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		d := e.snapshot()
		if filter.matches(d) {
			out = append(out, d)
		}
	}
	return out
}

// MutateFunc mutates a descriptor in place under its per-entry lock.
type MutateFunc func(*Descriptor)

// Mutate applies fn to the descriptor for id under its own per-entry lock.
// The global map lock is taken only in shared (read) mode for the lookup,
// never for writing — this is what lets Heartbeat (the highest-rate
// write) stay lock-light.
func (s *Store) Mutate(id string, fn MutateFunc) error {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mcp %s not found", id)
	}

	e.mu.Lock()
	fn(&e.desc)
	e.mu.Unlock()
	return nil
}

// Snapshot returns every descriptor currently held, for periodic durable
// snapshotting.
func (s *Store) Snapshot() []Descriptor {
	return s.List(Filter{})
}

// LoadSnapshot replaces the registry's contents with the given descriptors,
// marking every one of them "suspect" until its first heartbeat arrives —
// a durable snapshot is a warm-start aid only, never authoritative.
func (s *Store) LoadSnapshot(entries []Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]*entry, len(entries))
	s.byKey = make(map[string]string, len(entries))
	for _, d := range entries {
		d.Status = StatusSuspect
		d.Breaker.State = BreakerClosed
		s.byID[d.ID] = &entry{desc: d}
		s.byKey[idemKey(d.Kind, d.Endpoint)] = d.ID
	}
	logging.Info("Registry", "Loaded snapshot with %d entries, all marked suspect", len(entries))
}
