package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordinator/pkg/clock"
)

func TestAccept_ValidStart(t *testing.T) {
	q := NewQueue(4)
	api := New(clock.Real{}, q)

	err := api.Accept(context.Background(), Request{
		Action: ActionStart, InteractionID: "i1", MCPID: "mcp1", Principal: "client-a",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestAccept_RejectsMissingMCPOnStart(t *testing.T) {
	q := NewQueue(4)
	api := New(clock.Real{}, q)

	err := api.Accept(context.Background(), Request{Action: ActionStart, InteractionID: "i1"})
	assert.Error(t, err)
}

func TestAccept_UnavailableWhenFull(t *testing.T) {
	q := NewQueue(1)
	api := New(clock.Real{}, q)

	require.NoError(t, api.Accept(context.Background(), Request{
		Action: ActionStart, InteractionID: "i1", MCPID: "m", Principal: "p",
	}))

	start := time.Now()
	err := api.Accept(context.Background(), Request{
		Action: ActionStart, InteractionID: "i2", MCPID: "m", Principal: "p",
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.GreaterOrEqual(t, elapsed, BackPressureWait)
}

func TestQueue_DrainUpTo(t *testing.T) {
	q := NewQueue(8)
	for i := 0; i < 5; i++ {
		q.ch <- Event{InteractionID: "x"}
	}
	batch := q.DrainUpTo(3)
	assert.Len(t, batch, 3)
	assert.Equal(t, 2, q.Len())
}
