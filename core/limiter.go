package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStepLimit is returned by StepLimiter.Increment once the limit is reached.
var ErrStepLimit = errors.New("step limit exceeded")

// StepLimiter bounds the number of delegation steps taken within one turn.
type StepLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepLimiter creates a limiter allowing max steps.
// If max == 0, unlimited steps are allowed.
func NewStepLimiter(max int) *StepLimiter {
	return &StepLimiter{max: max}
}

// Increment records a step and returns an error if the limit is exceeded.
func (sl *StepLimiter) Increment() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.count++
	if sl.max > 0 && sl.count > sl.max {
		return fmt.Errorf("%w: %d", ErrStepLimit, sl.max)
	}

	return nil
}

// Count returns the number of steps recorded.
func (sl *StepLimiter) Count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.count
}
