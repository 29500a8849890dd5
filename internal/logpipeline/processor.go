package logpipeline

import (
	"context"
	"time"

	"coordinator/internal/breaker"
	"coordinator/internal/ingest"
	"coordinator/internal/registry"
	"coordinator/pkg/clock"
	"coordinator/pkg/logging"
)

// BatchSize and BatchWait bound the drain loop: gather up to 100 events or
// wait up to 1s, then apply as a batch.
const (
	BatchSize = 100
	BatchWait = time.Second

	// OutOfOrderGrace is how long a progress event for an unknown
	// interaction_id is buffered awaiting its start event before being
	// dropped.
	OutOfOrderGrace = 5 * time.Second
)

type pendingProgress struct {
	events    []ingest.Event
	firstSeen time.Time
}

// Processor is the Log Processor: it drains the Interaction Queue in
// batches, applies each event to the Interaction Record state machine,
// writes through to the durable Store, and maintains the bounded
// in-memory cache.
type Processor struct {
	queue    *ingest.Queue
	store    *Store
	cache    *lruCache
	clock    clock.Clock
	registry *registry.Store // may be nil in tests that don't exercise perf_window feedback
	breakers *breaker.Manager // may be nil for the same reason

	pendingProgress map[string]*pendingProgress
}

// New creates a Processor. registry and breakers may be nil if perf_window
// feedback is not needed (e.g. isolated unit tests).
func New(c clock.Clock, queue *ingest.Queue, store *Store, cacheCapacity int, reg *registry.Store, breakers *breaker.Manager) *Processor {
	return &Processor{
		queue:           queue,
		store:           store,
		cache:           newLRUCache(cacheCapacity),
		clock:           c,
		registry:        reg,
		breakers:        breakers,
		pendingProgress: make(map[string]*pendingProgress),
	}
}

// Run blocks, draining and applying batches until ctx is canceled.
func (p *Processor) Run(ctx context.Context) {
	for {
		batch := p.collectBatch(ctx)
		if len(batch) == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.applyBatch(batch)
	}
}

// collectBatch blocks for the first event, then drains non-blockingly
// until BatchSize is reached or BatchWait has elapsed since the first
// event arrived.
func (p *Processor) collectBatch(ctx context.Context) []ingest.Event {
	var first ingest.Event
	select {
	case evt := <-p.queue.Chan():
		first = evt
	case <-ctx.Done():
		return nil
	}
	batch := []ingest.Event{first}

	deadline := time.NewTimer(BatchWait)
	defer deadline.Stop()

	for len(batch) < BatchSize {
		select {
		case evt := <-p.queue.Chan():
			batch = append(batch, evt)
		case <-deadline.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

func (p *Processor) applyBatch(batch []ingest.Event) {
	now := p.clock.Now()
	p.expireOutOfOrder(now)

	for _, evt := range batch {
		switch evt.Action {
		case ingest.ActionStart:
			p.applyStart(evt)
		case ingest.ActionProgress:
			p.applyProgress(evt, now)
		case ingest.ActionComplete:
			p.applyComplete(evt)
		case ingest.ActionError:
			p.applyError(evt)
		}
	}
}

func (p *Processor) load(id string) (Record, bool) {
	if r, ok := p.cache.get(id); ok {
		return r, true
	}
	if p.store == nil {
		return Record{}, false
	}
	r, ok, err := p.store.Get(id)
	if err != nil {
		logging.Error("LogPipeline", err, "Failed to read record %s from store", id)
		return Record{}, false
	}
	return r, ok
}

func (p *Processor) persist(r Record) {
	p.cache.put(r)
	if p.store == nil {
		return
	}
	if err := p.store.Put(r); err != nil {
		logging.Error("LogPipeline", err, "Failed to persist record %s", r.InteractionID)
	}
}

func (p *Processor) applyStart(evt ingest.Event) {
	existing, ok := p.load(evt.InteractionID)
	if ok {
		if existing.State.terminal() {
			logging.Warn("LogPipeline", "Duplicate interaction_start on finished id %s, rejected", evt.InteractionID)
			return
		}
		// Present and non-terminal: idempotent no-op.
		return
	}

	r := Record{
		InteractionID:  evt.InteractionID,
		MCPID:          evt.MCPID,
		ClientID:       evt.ClientID,
		StartTS:        evt.ReceivedAt,
		State:          StateStarted,
		ProgressEvents: []ProgressEvent{},
		Metadata:       map[string]string{"principal_hash": evt.PrincipalHash},
	}
	p.persist(r)
	p.replayBuffered(evt.InteractionID)
}

func (p *Processor) applyProgress(evt ingest.Event, now time.Time) {
	r, ok := p.load(evt.InteractionID)
	if !ok {
		p.bufferOutOfOrder(evt, now)
		logging.Warn("LogPipeline", "Progress event for unknown interaction %s, buffering for start", evt.InteractionID)
		return
	}
	if r.State.terminal() {
		return
	}

	r.ProgressEvents = append(r.ProgressEvents, ProgressEvent{Ts: evt.ReceivedAt, Payload: evt.Payload})
	if r.State == StateStarted {
		r.State = StateInProgress
	}
	p.persist(r)
}

func (p *Processor) applyComplete(evt ingest.Event) {
	r, ok := p.load(evt.InteractionID)
	if !ok || r.State.terminal() {
		// Unknown id, or already terminal: a crash-replay duplicate is
		// discarded outright, which converges on whichever terminal write
		// landed first.
		return
	}

	r.State = StateCompleted
	r.EndTS = evt.ReceivedAt
	r.ResultPayload = evt.Payload
	p.persist(r)

	p.observeOutcome(r.MCPID, true, r.EndTS.Sub(r.StartTS))
}

func (p *Processor) applyError(evt ingest.Event) {
	r, ok := p.load(evt.InteractionID)
	if !ok || r.State.terminal() {
		return
	}

	r.State = StateFailed
	r.EndTS = evt.ReceivedAt
	r.ErrorPayload = evt.Payload
	p.persist(r)

	p.observeOutcome(r.MCPID, false, r.EndTS.Sub(r.StartTS))
}

// observeOutcome folds a terminal interaction outcome into the owning
// MCP's perf_window and reports it to the circuit breaker.
func (p *Processor) observeOutcome(mcpID string, success bool, latency time.Duration) {
	if mcpID == "" {
		return
	}
	if p.registry != nil {
		_ = p.registry.Mutate(mcpID, func(d *registry.Descriptor) {
			if success {
				d.PerfWindow.ObserveSuccess(float64(latency.Milliseconds()))
			} else {
				d.PerfWindow.ObserveFailure()
			}
		})
	}
	if p.breakers != nil {
		outcome := breaker.Success
		if !success {
			outcome = breaker.Failure
		}
		p.breakers.Report(context.Background(), mcpID, outcome)
	}
}

func (p *Processor) bufferOutOfOrder(evt ingest.Event, now time.Time) {
	pp, ok := p.pendingProgress[evt.InteractionID]
	if !ok {
		pp = &pendingProgress{firstSeen: now}
		p.pendingProgress[evt.InteractionID] = pp
	}
	pp.events = append(pp.events, evt)
}

func (p *Processor) replayBuffered(interactionID string) {
	pp, ok := p.pendingProgress[interactionID]
	if !ok {
		return
	}
	delete(p.pendingProgress, interactionID)
	for _, evt := range pp.events {
		p.applyProgress(evt, p.clock.Now())
	}
}

func (p *Processor) expireOutOfOrder(now time.Time) {
	for id, pp := range p.pendingProgress {
		if now.Sub(pp.firstSeen) > OutOfOrderGrace {
			logging.Warn("LogPipeline", "Dropping %d buffered progress event(s) for unknown interaction %s after grace period", len(pp.events), id)
			delete(p.pendingProgress, id)
		}
	}
}
