package ledger

import (
	"context"
	"sync/atomic"
	"time"
)

// ManualClock is a height source advanced explicitly, used in tests and
// single-node development.
type ManualClock struct {
	h atomic.Uint64
}

// NewManualClock returns a clock starting at height.
func NewManualClock(height uint64) *ManualClock {
	c := &ManualClock{}
	c.h.Store(height)
	return c
}

// Height implements domain.HeightSource.
func (c *ManualClock) Height(context.Context) (uint64, error) {
	return c.h.Load(), nil
}

// Advance moves the clock forward by n and returns the new height.
func (c *ManualClock) Advance(n uint64) uint64 {
	return c.h.Add(n)
}

// Set jumps to height h.
func (c *ManualClock) Set(h uint64) {
	c.h.Store(h)
}

// IntervalClock derives the height from wall time: one height per interval
// since genesis.
type IntervalClock struct {
	Genesis  time.Time
	Interval time.Duration
	Now      func() time.Time
}

// Height implements domain.HeightSource.
func (c IntervalClock) Height(context.Context) (uint64, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if c.Interval <= 0 {
		return 0, nil
	}
	elapsed := now().Sub(c.Genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / c.Interval), nil
}
