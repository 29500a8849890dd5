package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OpensOnExactlyTheFailureThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, Window: time.Minute, BaseCooldown: 20 * time.Millisecond, MaxCooldown: time.Second}
	m := NewManager(cfg, nil)

	for i := 0; i < 2; i++ {
		m.Report(context.Background(), "mcp-a", Failure)
		require.Equal(t, gobreaker.StateClosed, m.State("mcp-a"), "must stay closed before the threshold is reached")
		assert.True(t, m.Allow("mcp-a"))
	}

	m.Report(context.Background(), "mcp-a", Failure)
	assert.Equal(t, gobreaker.StateOpen, m.State("mcp-a"), "must open on exactly the Nth consecutive failure")
	assert.False(t, m.Allow("mcp-a"))
}

func TestManager_CooldownElapsesIntoHalfOpen(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Window: time.Minute, BaseCooldown: 20 * time.Millisecond, MaxCooldown: time.Second}
	m := NewManager(cfg, nil)

	m.Report(context.Background(), "mcp-a", Failure)
	require.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))

	time.Sleep(cfg.BaseCooldown + 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, m.State("mcp-a"), "a probe must be admitted once the cooldown elapses")
	assert.True(t, m.Allow("mcp-a"))
}

func TestManager_FailedProbeDoublesCooldown(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Window: time.Minute, BaseCooldown: 20 * time.Millisecond, MaxCooldown: time.Second}
	m := NewManager(cfg, nil)

	m.Report(context.Background(), "mcp-a", Failure)
	require.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))

	c := m.getOrCreate("mcp-a")
	require.Equal(t, cfg.BaseCooldown, c.cooldown)

	time.Sleep(cfg.BaseCooldown + 10*time.Millisecond)
	require.Equal(t, gobreaker.StateHalfOpen, m.State("mcp-a"))

	m.Report(context.Background(), "mcp-a", Failure)
	assert.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))
	assert.Equal(t, 2*cfg.BaseCooldown, c.cooldown, "a failed half-open probe must double the next cooldown")
}

func TestManager_CooldownDoublingCapsAtMaxCooldown(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Window: time.Minute, BaseCooldown: 30 * time.Millisecond, MaxCooldown: 40 * time.Millisecond}
	m := NewManager(cfg, nil)

	m.Report(context.Background(), "mcp-a", Failure)
	require.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))

	time.Sleep(cfg.BaseCooldown + 10*time.Millisecond)
	require.Equal(t, gobreaker.StateHalfOpen, m.State("mcp-a"))

	m.Report(context.Background(), "mcp-a", Failure)
	c := m.getOrCreate("mcp-a")
	assert.Equal(t, cfg.MaxCooldown, c.cooldown, "cooldown must clamp at MaxCooldown rather than keep doubling")
}

func TestManager_SuccessfulProbeClosesAndResetsCooldown(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Window: time.Minute, BaseCooldown: 20 * time.Millisecond, MaxCooldown: time.Second}
	m := NewManager(cfg, nil)

	m.Report(context.Background(), "mcp-a", Failure)
	require.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))

	time.Sleep(cfg.BaseCooldown + 10*time.Millisecond)
	require.Equal(t, gobreaker.StateHalfOpen, m.State("mcp-a"))

	m.Report(context.Background(), "mcp-a", Success)
	assert.Equal(t, gobreaker.StateClosed, m.State("mcp-a"))
	assert.True(t, m.Allow("mcp-a"))

	c := m.getOrCreate("mcp-a")
	assert.Equal(t, cfg.BaseCooldown, c.cooldown, "closing must reset the cooldown for any future trip")
}

func TestManager_FailureWhileAlreadyOpenDoesNotExtendTheOpenWindow(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Window: time.Minute, BaseCooldown: 40 * time.Millisecond, MaxCooldown: time.Second}
	m := NewManager(cfg, nil)

	m.Report(context.Background(), "mcp-a", Failure)
	require.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))

	c := m.getOrCreate("mcp-a")
	require.Equal(t, cfg.BaseCooldown, c.cooldown)

	// A failure reported while still open never reaches a probe (gobreaker
	// rejects the call with ErrOpenState), so it must not rebuild the
	// breaker or double the cooldown.
	time.Sleep(cfg.BaseCooldown / 2)
	m.Report(context.Background(), "mcp-a", Failure)
	assert.Equal(t, cfg.BaseCooldown, c.cooldown)
	assert.Equal(t, gobreaker.StateOpen, m.State("mcp-a"))

	time.Sleep(cfg.BaseCooldown/2 + 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, m.State("mcp-a"), "the original cooldown window must elapse on schedule, unextended")
}

func TestManager_OnChangeMirrorsStateTransitions(t *testing.T) {
	cfg := Config{FailureThreshold: 1, Window: time.Minute, BaseCooldown: 20 * time.Millisecond, MaxCooldown: time.Second}
	var seen []gobreaker.State
	m := NewManager(cfg, func(mcpID string, state gobreaker.State, openUntil time.Time) {
		require.Equal(t, "mcp-a", mcpID)
		seen = append(seen, state)
		if state == gobreaker.StateOpen {
			assert.False(t, openUntil.IsZero())
		}
	})

	m.Report(context.Background(), "mcp-a", Failure)
	require.Equal(t, []gobreaker.State{gobreaker.StateOpen}, seen)

	time.Sleep(cfg.BaseCooldown + 10*time.Millisecond)
	m.State("mcp-a")
	require.Equal(t, []gobreaker.State{gobreaker.StateOpen, gobreaker.StateHalfOpen}, seen)

	m.Report(context.Background(), "mcp-a", Success)
	require.Equal(t, []gobreaker.State{gobreaker.StateOpen, gobreaker.StateHalfOpen, gobreaker.StateClosed}, seen)
}
