// internal/seqclock/clock.go
package seqclock

import (
	"sync"
	"time"
)

// Clock hands out monotonically increasing sequence tags. It behaves as a
// Lamport counter: tags observed from other writers raise the local counter
// so the next local tag orders after everything seen so far.
type Clock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithWallClock floors every tag at the given clock's Unix milliseconds, so
// independent processes that never saw each other's tags still order their
// writes roughly by time.
func WithWallClock(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// New creates a Clock starting at zero.
func New(opts ...Option) *Clock {
	c := &Clock{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next returns a tag strictly greater than every tag returned or observed before.
func (c *Clock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.last + 1
	if c.now != nil {
		if ms := c.now().UnixMilli(); ms > 0 && uint64(ms) > next {
			next = uint64(ms)
		}
	}
	c.last = next
	return next
}

// Observe records a tag produced elsewhere.
func (c *Clock) Observe(seq uint64) {
	c.mu.Lock()
	if seq > c.last {
		c.last = seq
	}
	c.mu.Unlock()
}

// Last reports the highest tag issued or observed.
func (c *Clock) Last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
