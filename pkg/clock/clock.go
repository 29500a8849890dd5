// Package clock provides the coordinator's process-wide time source and ID
// minting, injected as handles so tests can substitute deterministic
// implementations.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so components never call time.Now() directly.
type Clock interface {
	// Now returns the current instant using the monotonic clock reading.
	Now() time.Time
	// Wall returns the current time as fractional Unix seconds.
	Wall() float64
}

// Real is the production Clock backed by the Go runtime clock.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time { return time.Now() }

// Wall implements Clock.
func (Real) Wall() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Frozen is a deterministic Clock for tests.
type Frozen struct {
	At time.Time
}

// Now implements Clock.
func (f Frozen) Now() time.Time { return f.At }

// Wall implements Clock.
func (f Frozen) Wall() float64 { return float64(f.At.UnixNano()) / 1e9 }

// IDGenerator mints sortable, globally unique identifiers.
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDGenerator mints IDs as "<prefix>_<uuidv7>". UUIDv7 embeds a
// millisecond timestamp in its high bits, making IDs minted later sort
// lexicographically after IDs minted earlier — the "sortable, ULID-like"
// property the data model requires.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS entropy source is broken; fall back to
		// a random v4 rather than panicking a hot path.
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}

// SequentialGenerator mints deterministic, strictly increasing IDs for tests.
type SequentialGenerator struct {
	counter int64
}

// NewID implements IDGenerator.
func (s *SequentialGenerator) NewID(prefix string) string {
	s.counter++
	if prefix == "" {
		prefix = "id"
	}
	return prefixSeq(prefix, s.counter)
}

func prefixSeq(prefix string, n int64) string {
	const digits = "0123456789"
	buf := make([]byte, 0, len(prefix)+16)
	buf = append(buf, prefix...)
	buf = append(buf, '_')
	if n == 0 {
		buf = append(buf, '0')
	} else {
		start := len(buf)
		for n > 0 {
			buf = append(buf, digits[n%10])
			n /= 10
		}
		// reverse the digits we just appended
		for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}
	return string(buf)
}
