// Package clock provides the process-wide wall clock. The server never calls
// time.Now directly for game-visible timestamps; everything goes through a
// Clock so that tests and admin tooling can shift time without touching the
// OS clock.
package clock

import (
	"sync"
	"time"
)

// Clock is a wall clock with an adjustable offset.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// New returns a clock with zero offset.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time shifted by the configured offset.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// NowUnixMilli returns Now as Unix milliseconds, the timestamp unit used on
// the wire.
func (c *Clock) NowUnixMilli() int64 {
	return c.Now().UnixMilli()
}

// SetOffset replaces the clock offset.
func (c *Clock) SetOffset(d time.Duration) {
	c.mu.Lock()
	c.offset = d
	c.mu.Unlock()
}

// Offset returns the current offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
