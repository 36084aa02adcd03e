// Package budget hands out bounded per-stage timeouts from a single
// wall-clock deadline so one slow stage cannot starve the stages after it.
package budget

import "time"

// MinTotal is the smallest total budget New accepts.
const MinTotal = 200 * time.Millisecond

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Budget tracks the deadline of one search call.
type Budget struct {
	deadline time.Time
	now      Clock
}

// New creates a budget expiring total from now, clamped to MinTotal.
func New(total time.Duration) *Budget {
	return NewWithClock(total, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(total time.Duration, now Clock) *Budget {
	if now == nil {
		now = time.Now
	}
	if total < MinTotal {
		total = MinTotal
	}
	return &Budget{deadline: now().Add(total), now: now}
}

// Deadline returns the absolute deadline.
func (b *Budget) Deadline() time.Time {
	return b.deadline
}

// Remaining returns the time left before the deadline, never negative.
func (b *Budget) Remaining() time.Duration {
	left := b.deadline.Sub(b.now())
	if left < 0 {
		return 0
	}
	return left
}

// TimeoutFor returns the timeout a stage may use.
//
// It returns 0 when less than stageMin remains, meaning the stage must be
// skipped. Otherwise it returns the remaining time clamped to
// [stageMin, stageMax].
func (b *Budget) TimeoutFor(stageMax, stageMin time.Duration) time.Duration {
	left := b.Remaining()
	if left < stageMin || left <= 0 {
		return 0
	}
	if stageMax < stageMin {
		stageMax = stageMin
	}
	if left > stageMax {
		return stageMax
	}
	return left
}
