package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh TickingClock.
var Epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// TickingClock hands out strictly increasing instants, one step apart.
// Example:
//
//	clk := NewTickingClock()
//	d := delegation.NewAgentDelegator(coord, reg, func(o *delegation.AgentDelegatorOptions) { o.Clock = clk.Now })
type TickingClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewTickingClock starts at Epoch and advances one millisecond per reading.
func NewTickingClock() *TickingClock {
	return &TickingClock{next: Epoch, step: time.Millisecond}
}

// Now returns the next instant and advances the clock.
func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.next
	c.next = c.next.Add(c.step)

	return t
}

// Peek returns the instant the next Now call will produce.
func (c *TickingClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.next
}
