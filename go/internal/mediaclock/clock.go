package mediaclock

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// Clock is the shared playback timestamp source used to stamp and extrapolate
// playback intent. All participants must agree on its value within a small
// epsilon so position extrapolation is consistent regardless of which client
// computes it.
//
// In production, use NewSharedClock(clockwork.NewRealClock()). In tests, a
// FakeClock.
type Clock interface {
	NowMS() int64
}

// Func adapts a plain function to the Clock interface, e.g. a transport's
// shared-clock accessor.
type Func func() int64

// NowMS implements Clock.
func (f Func) NowMS() int64 { return f() }

// SharedClock converts a local clockwork.Clock into shared-clock milliseconds
// by applying an offset learned from the replication substrate. NowMS is
// monotonic non-decreasing even if the offset is re-learned downward.
type SharedClock struct {
	clock clockwork.Clock

	mu       sync.Mutex
	offsetMS int64
	lastMS   int64
}

// NewSharedClock creates a shared clock on top of a local clock with zero
// offset. Call SetOffset once the substrate reports its notion of "now".
func NewSharedClock(clock clockwork.Clock) *SharedClock {
	return &SharedClock{clock: clock}
}

// SetOffset records the difference between the substrate's current timestamp
// and the local clock. Safe to call repeatedly as drift estimates improve.
func (c *SharedClock) SetOffset(sharedNowMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsetMS = sharedNowMS - c.clock.Now().UnixMilli()
}

// NowMS returns the current shared-clock timestamp in milliseconds.
func (c *SharedClock) NowMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now().UnixMilli() + c.offsetMS
	if now < c.lastMS {
		// Offset was re-learned downward; hold the line until local time
		// catches up so consumers never observe time moving backwards.
		return c.lastMS
	}
	c.lastMS = now
	return now
}
