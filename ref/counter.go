package ref

import (
	"sync/atomic"

	"github.com/wippyai/ownership/errors"
)

// counts holds the strong and weak reference counts of a control block.
//
// The weak count carries one extra unit owned collectively by the strong
// references. That unit is returned after the payload is destroyed, so the
// weak count reaches zero exactly once, and only after the strong count
// has.
type counts struct {
	strong atomic.Int64
	weak   atomic.Int64
}

func (c *counts) init() {
	c.strong.Store(1)
	c.weak.Store(1)
}

func (c *counts) retainStrong() {
	c.strong.Add(1)
}

// releaseStrong reports whether this call took the count from 1 to 0.
func (c *counts) releaseStrong() bool {
	n := c.strong.Add(-1)
	if n < 0 {
		panic(errors.OverRelease("strong", n))
	}
	return n == 0
}

func (c *counts) retainWeak() {
	c.weak.Add(1)
}

// releaseWeak reports whether this call took the count to 0.
func (c *counts) releaseWeak() bool {
	n := c.weak.Add(-1)
	if n < 0 {
		panic(errors.OverRelease("weak", n))
	}
	return n == 0
}

// tryPromote increments the strong count only while it is non-zero.
// A plain load followed by an add would let a concurrent final release
// destroy the payload in between.
func (c *counts) tryPromote() bool {
	for {
		n := c.strong.Load()
		if n == 0 {
			return false
		}
		if c.strong.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (c *counts) useCount() int64 {
	return c.strong.Load()
}

// weakCount reports observers only, without the strong group's unit.
// The result is a snapshot and may be stale.
func (c *counts) weakCount() int64 {
	w := c.weak.Load()
	if c.strong.Load() > 0 {
		w--
	}
	if w < 0 {
		return 0
	}
	return w
}
