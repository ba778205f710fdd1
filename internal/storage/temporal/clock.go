// Package temporal implements the system-versioned table engine: a
// current partition of live row versions, an append-only history of
// closed versions, secondary indexes over current data, temporal scans
// (AS OF, FROM...TO, BETWEEN, CONTAINED IN, ALL) and background history
// retention. Engines are registered for the memory:// and file:// DSN
// schemes.
package temporal

import (
	"sync/atomic"
	"time"
)

// clock issues strictly monotonic timestamps for one engine instance.
// Wall-clock nanoseconds are used while they advance; on a collision or
// a clock regression the next timestamp is last+1, borrowing from
// future nanoseconds until the wall clock catches up.
type clock struct {
	last atomic.Int64
}

func newClock() *clock {
	return &clock{}
}

// Now returns the next timestamp. Safe for concurrent use; no two calls
// on the same clock return the same value.
func (c *clock) Now() int64 {
	nowNano := time.Now().UnixNano()
	for {
		last := c.last.Load()
		next := nowNano
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Advance raises the clock floor to at least ts, so that timestamps
// issued after a replay always exceed every persisted one.
func (c *clock) Advance(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}
