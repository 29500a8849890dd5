package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	payload map[string]interface{}
	err     error
	delay   time.Duration
}

func (f *fakeTransport) Call(ctx context.Context, endpoint, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func TestDispatch_Success(t *testing.T) {
	d := New(&fakeTransport{payload: map[string]interface{}{"ok": true}})
	res, derr := d.Dispatch(context.Background(), "http://mcp", Request{Tool: "run"})
	require.Nil(t, derr)
	assert.Equal(t, true, res.Payload["ok"])
}

func TestDispatch_TimeoutClassification(t *testing.T) {
	d := New(&fakeTransport{delay: 50 * time.Millisecond})
	_, derr := d.Dispatch(context.Background(), "http://mcp", Request{Tool: "run", Deadline: time.Now().Add(10 * time.Millisecond)})
	require.NotNil(t, derr)
	assert.Equal(t, KindTimeout, derr.Kind)
}

func TestDispatch_RemoteErrorDeterministic(t *testing.T) {
	d := New(&fakeTransport{err: &RemoteError{Err: errors.New("invalid input"), Deterministic: true}})
	_, derr := d.Dispatch(context.Background(), "http://mcp", Request{Tool: "run"})
	require.NotNil(t, derr)
	assert.Equal(t, KindRemoteError, derr.Kind)
	assert.True(t, derr.Deterministic)
}

func TestDispatch_MalformedResponse(t *testing.T) {
	d := New(&fakeTransport{err: &MalformedResponseError{Err: errors.New("bad shape")}})
	_, derr := d.Dispatch(context.Background(), "http://mcp", Request{Tool: "run"})
	require.NotNil(t, derr)
	assert.Equal(t, KindMalformedResponse, derr.Kind)
}

func TestDispatch_TransportFallthrough(t *testing.T) {
	d := New(&fakeTransport{err: errors.New("connection refused")})
	_, derr := d.Dispatch(context.Background(), "http://mcp", Request{Tool: "run"})
	require.NotNil(t, derr)
	assert.Equal(t, KindTransport, derr.Kind)
}

func TestDispatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(&fakeTransport{delay: 50 * time.Millisecond})
	_, derr := d.Dispatch(ctx, "http://mcp", Request{Tool: "run"})
	require.NotNil(t, derr)
	assert.Equal(t, KindCanceled, derr.Kind)
}
