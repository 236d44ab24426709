package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies the local wall-clock time rules are evaluated against
type Clock interface {
	Now() time.Time
}

// SystemClock is the host clock shifted into a fixed UTC offset and
// corrected by the skew measured at the last time sync.
type SystemClock struct {
	zone *time.Location
	skew atomic.Int64
}

// NewSystemClock returns a clock in the zone UTC+offset
func NewSystemClock(offset time.Duration) *SystemClock {
	return &SystemClock{zone: time.FixedZone("local", int(offset.Seconds()))}
}

// Now returns the corrected local time
func (c *SystemClock) Now() time.Time {
	return time.Now().Add(c.Skew()).In(c.zone)
}

// SetSkew records the correction to apply to the host clock
func (c *SystemClock) SetSkew(d time.Duration) {
	c.skew.Store(int64(d))
}

// Skew returns the current correction
func (c *SystemClock) Skew() time.Duration {
	return time.Duration(c.skew.Load())
}

// Location returns the clock's fixed zone
func (c *SystemClock) Location() *time.Location { return c.zone }
