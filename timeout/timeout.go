// Package timeout tracks the propose, prevote and precommit deadlines of the current round.
//
// The scheduler never reads a clock. Deadlines are absolute timestamps computed from the
// time supplied by the caller, and they fire when the caller reports a later time.
// Each deadline fires at most once.
package timeout

import (
	"math"

	"github.com/relab/vetomint"
)

type deadlineState uint8

const (
	unscheduled deadlineState = iota
	scheduled
	fired
)

type deadline struct {
	at    vetomint.Timestamp
	state deadlineState
}

// Scheduler holds the deadlines of a single round.
type Scheduler struct {
	policy    Policy
	round     vetomint.Round
	deadlines [vetomint.StepDecided]deadline
}

// New returns a scheduler for round 0 using the given policy.
func New(policy Policy) *Scheduler {
	return &Scheduler{policy: policy}
}

// Round returns the round that the deadlines belong to.
func (s *Scheduler) Round() vetomint.Round {
	return s.round
}

// Duration returns the timeout of the step in the given round.
func (s *Scheduler) Duration(step vetomint.Step, round vetomint.Round) uint64 {
	return s.policy.Duration(step, round)
}

// Schedule sets the deadline of the step to now plus the step's timeout.
// It returns false, and changes nothing, if the step was already scheduled or fired in the round,
// or if the round is older than the scheduler's round. Scheduling for a newer round clears
// the deadlines of the old round.
func (s *Scheduler) Schedule(step vetomint.Step, round vetomint.Round, now vetomint.Timestamp) (vetomint.Timestamp, bool) {
	if step >= vetomint.StepDecided || round < s.round {
		return 0, false
	}
	if round > s.round {
		s.Reset(round)
	}
	d := &s.deadlines[step]
	if d.state != unscheduled {
		return d.at, false
	}
	d.at = add(now, s.policy.Duration(step, round))
	d.state = scheduled
	return d.at, true
}

// Deadline returns the pending deadline of the step, if any.
func (s *Scheduler) Deadline(step vetomint.Step) (vetomint.Timestamp, bool) {
	if step >= vetomint.StepDecided {
		return 0, false
	}
	d := s.deadlines[step]
	return d.at, d.state == scheduled
}

// Expired returns the steps whose deadlines expired at now, in step order,
// and marks them as fired.
func (s *Scheduler) Expired(now vetomint.Timestamp) []vetomint.Step {
	var steps []vetomint.Step
	for i := range s.deadlines {
		d := &s.deadlines[i]
		if d.state == scheduled && IsExpired(d.at, now) {
			d.state = fired
			steps = append(steps, vetomint.Step(i))
		}
	}
	return steps
}

// Cancel clears a pending deadline without firing it.
func (s *Scheduler) Cancel(step vetomint.Step) {
	if step >= vetomint.StepDecided {
		return
	}
	if s.deadlines[step].state == scheduled {
		s.deadlines[step] = deadline{state: fired}
	}
}

// Reset drops all deadlines and moves the scheduler to the given round.
func (s *Scheduler) Reset(round vetomint.Round) {
	s.round = round
	s.deadlines = [vetomint.StepDecided]deadline{}
}

// IsExpired returns true if the deadline has been reached at now.
func IsExpired(deadline, now vetomint.Timestamp) bool {
	return now >= deadline
}

func add(now vetomint.Timestamp, ms uint64) vetomint.Timestamp {
	if ms > math.MaxInt64 {
		ms = math.MaxInt64
	}
	if now > 0 && vetomint.Timestamp(ms) > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + vetomint.Timestamp(ms)
}
