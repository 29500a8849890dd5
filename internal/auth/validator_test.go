package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordinator/pkg/clock"
)

func TestValidate_StaticToken(t *testing.T) {
	c := clock.Frozen{At: time.Now()}
	v := New(c, "", time.Minute, nil)
	v.AddStaticToken("tok-1", "svc-a", []Scope{ScopeDispatch}, time.Time{})

	p, err := v.Validate("1.2.3.4", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "svc-a", p.ID)
	assert.True(t, p.HasScope(ScopeDispatch))
}

func TestValidate_UnknownToken(t *testing.T) {
	c := clock.Frozen{At: time.Now()}
	v := New(c, "", time.Minute, nil)
	_, err := v.Validate("1.2.3.4", "nope")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindUnknownToken, verr.Kind)
}

func TestValidate_DisabledToken(t *testing.T) {
	c := clock.Frozen{At: time.Now()}
	v := New(c, "", time.Minute, nil)
	v.AddStaticToken("tok-1", "svc-a", nil, time.Time{})
	v.RevokeStaticToken("tok-1")

	_, err := v.Validate("1.2.3.4", "tok-1")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindDisabled, verr.Kind)
}

func TestValidate_ExpiredStaticToken(t *testing.T) {
	now := time.Now()
	c := clock.Frozen{At: now}
	v := New(c, "", time.Minute, nil)
	v.AddStaticToken("tok-1", "svc-a", nil, now.Add(-time.Second))

	_, err := v.Validate("1.2.3.4", "tok-1")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindExpired, verr.Kind)
}

func TestValidate_HMACToken(t *testing.T) {
	now := time.Now()
	c := clock.Frozen{At: now}
	secret := "shared-secret"
	tok := clock.HMACToken(c, secret, time.Minute)

	v := New(c, secret, time.Minute, nil)
	p, err := v.Validate("1.2.3.4", tok)
	require.NoError(t, err)
	assert.True(t, p.HasScope(ScopeControlPlane))
}

func TestValidate_MalformedEmptyToken(t *testing.T) {
	c := clock.Frozen{At: time.Now()}
	v := New(c, "secret", time.Minute, nil)
	_, err := v.Validate("1.2.3.4", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindMalformed, verr.Kind)
}

func TestLimiter_BlocksAfterBurst(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 50; i++ {
		require.True(t, l.Allow("src"))
		l.RecordFailure("src")
	}
	assert.False(t, l.Allow("src"))
}
