package logpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordinator/internal/ingest"
	"coordinator/pkg/clock"
)

func newTestProcessor(t *testing.T) (*Processor, *Store, *ingest.Queue) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	q := ingest.NewQueue(16)
	return New(clock.Real{}, q, store, 16, nil, nil), store, q
}

func TestProcessor_StartCompleteLifecycle(t *testing.T) {
	p, store, _ := newTestProcessor(t)

	p.applyStart(ingest.Event{Action: ingest.ActionStart, InteractionID: "i1", MCPID: "m1", ReceivedAt: time.Now()})
	p.applyProgress(ingest.Event{Action: ingest.ActionProgress, InteractionID: "i1", ReceivedAt: time.Now(), Payload: map[string]interface{}{"step": 1}}, time.Now())
	p.applyComplete(ingest.Event{Action: ingest.ActionComplete, InteractionID: "i1", ReceivedAt: time.Now(), Payload: map[string]interface{}{"ok": true}})

	rec, found, err := store.Get("i1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Len(t, rec.ProgressEvents, 1)
}

func TestProcessor_DuplicateStartOnFinishedRejected(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	now := time.Now()

	p.applyStart(ingest.Event{Action: ingest.ActionStart, InteractionID: "i1", MCPID: "m1", ReceivedAt: now})
	p.applyComplete(ingest.Event{Action: ingest.ActionComplete, InteractionID: "i1", ReceivedAt: now})
	p.applyStart(ingest.Event{Action: ingest.ActionStart, InteractionID: "i1", MCPID: "m1", ReceivedAt: now.Add(time.Second)})

	rec, found, err := store.Get("i1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateCompleted, rec.State, "duplicate start on a finished id must not reopen it")
}

func TestProcessor_OutOfOrderProgressBuffersThenReplays(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	now := time.Now()

	p.applyProgress(ingest.Event{Action: ingest.ActionProgress, InteractionID: "i1", ReceivedAt: now}, now)
	assert.Len(t, p.pendingProgress["i1"].events, 1)

	p.applyStart(ingest.Event{Action: ingest.ActionStart, InteractionID: "i1", MCPID: "m1", ReceivedAt: now})

	rec, found, err := store.Get("i1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateInProgress, rec.State)
	assert.Len(t, rec.ProgressEvents, 1)
	_, stillPending := p.pendingProgress["i1"]
	assert.False(t, stillPending)
}

func TestProcessor_OutOfOrderDroppedAfterGrace(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	past := time.Now().Add(-OutOfOrderGrace - time.Second)

	p.applyProgress(ingest.Event{Action: ingest.ActionProgress, InteractionID: "stale", ReceivedAt: past}, past)
	p.expireOutOfOrder(time.Now())

	_, stillPending := p.pendingProgress["stale"]
	assert.False(t, stillPending)
}

func TestProcessor_RunDrainsQueue(t *testing.T) {
	p, store, q := newTestProcessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	require.NoError(t, q.Enqueue(context.Background(), ingest.Event{
		Action: ingest.ActionStart, InteractionID: "i1", MCPID: "m1", ReceivedAt: time.Now(),
	}))

	require.Eventually(t, func() bool {
		_, found, _ := store.Get("i1")
		return found
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
}
