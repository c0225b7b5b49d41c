package storage

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing write timestamps at microsecond
// resolution, the precision both backends persist.
type Clock struct {
	last int64
	now  func() time.Time
}

// NewClock returns a Clock backed by the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Next returns a UTC timestamp later than every value returned before it.
func (c *Clock) Next() time.Time {
	for {
		now := c.now().UnixMicro()
		last := atomic.LoadInt64(&c.last)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&c.last, last, now) {
			return time.UnixMicro(now).UTC()
		}
	}
}
