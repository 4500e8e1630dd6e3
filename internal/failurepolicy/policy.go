// Package failurepolicy implements the auto-stop Failure Policy (C6): a
// stateful predicate over the stream of completed Task Results that
// decides whether the scheduler should keep dispatching or stop and drain.
//
// This is pure counting logic with no I/O or concurrency surface of its
// own (see DESIGN.md for why no third-party library backs it).
package failurepolicy

import "github.com/bastelbude1/parallelr/internal/task"

// Decision is the verdict returned after observing one outcome.
type Decision int

const (
	Continue Decision = iota
	Stop
)

// Policy tracks consecutive failures and the overall failure rate across a
// stream of Task Result outcomes.
type Policy struct {
	enabled              bool
	maxConsecutiveFails  int
	maxFailureRate       float64
	minTasksForRateCheck int

	consecutiveFailures int
	failures            int
	totalCompleted      int
	stopped             bool
}

// New builds a Policy. When enabled is false, Observe always returns
// Continue (spec.md §4.6 "Disabled mode").
func New(enabled bool, maxConsecutiveFails int, maxFailureRate float64, minTasksForRateCheck int) *Policy {
	return &Policy{
		enabled:              enabled,
		maxConsecutiveFails:  maxConsecutiveFails,
		maxFailureRate:       maxFailureRate,
		minTasksForRateCheck: minTasksForRateCheck,
	}
}

// Observe records one completed outcome and returns whether the scheduler
// should continue or stop. Once Stop has been returned, it is returned for
// every subsequent call regardless of further outcomes (spec.md §8
// property 8: monotonicity).
func (p *Policy) Observe(status task.Status) Decision {
	if p.stopped {
		return Stop
	}
	if !p.enabled {
		return Continue
	}

	switch {
	case status == task.StatusSuccess:
		p.consecutiveFailures = 0
		p.totalCompleted++
	case status == task.StatusCancelled:
		// Counts as neither failure nor success, and does not reset the
		// consecutive-failure streak (spec.md §4.6).
	case status.IsFailure(): // FAILED, TIMEOUT, LAUNCH_ERROR
		p.consecutiveFailures++
		p.failures++
		p.totalCompleted++
	}

	if p.consecutiveFailures >= p.maxConsecutiveFails {
		p.stopped = true
		return Stop
	}
	if p.totalCompleted >= p.minTasksForRateCheck {
		rate := float64(p.failures) / float64(p.totalCompleted)
		if rate > p.maxFailureRate {
			p.stopped = true
			return Stop
		}
	}
	return Continue
}

// Stopped reports whether the policy has already decided to stop.
func (p *Policy) Stopped() bool { return p.stopped }
