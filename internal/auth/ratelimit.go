package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// errRateLimited is returned by Validate when a source has exceeded its
// failed-validation budget.
var errRateLimited = &ValidationError{Kind: KindUnknownToken}

// Limiter throttles failed-credential validation per source, using a true
// token bucket (golang.org/x/time/rate): 10/s sustained, burst 50.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	r       rate.Limit
	burst   int
}

// NewLimiter creates a Limiter with the default rate of 10/s, burst 50.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		r:       rate.Limit(10),
		burst:   50,
	}
}

func (l *Limiter) bucketFor(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[source]
	if !ok {
		b = rate.NewLimiter(l.r, l.burst)
		l.buckets[source] = b
	}
	return b
}

// Allow reports whether source may currently attempt a validation. It does
// not itself consume a token for successful validations — only
// RecordFailure draws the bucket down, so well-behaved callers are never
// throttled by their own successes.
func (l *Limiter) Allow(source string) bool {
	return l.bucketFor(source).Tokens() >= 1
}

// RecordFailure consumes one token from source's bucket after a failed
// validation attempt.
func (l *Limiter) RecordFailure(source string) {
	l.bucketFor(source).Allow()
}
