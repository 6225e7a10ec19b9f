package timeout

import (
	"math"
	"math/bits"

	"github.com/relab/vetomint"
)

// Policy decides how long to wait in each step of a round.
// Durations are in milliseconds and must not decrease with the round,
// so that the network gets more time to recover after failed rounds.
type Policy interface {
	Duration(step vetomint.Step, round vetomint.Round) uint64
}

// Linear is a policy of the form Base + Delta*round, saturating on overflow.
type Linear struct {
	Base  uint64
	Delta uint64
}

// NewLinear returns the default policy for the given consensus parameters:
// every step waits TimeoutMS * (round + 1).
func NewLinear(params vetomint.ConsensusParams) Linear {
	return Linear{Base: params.TimeoutMS, Delta: params.TimeoutMS}
}

// Duration returns the timeout of the step in the given round.
func (l Linear) Duration(_ vetomint.Step, round vetomint.Round) uint64 {
	if round <= 0 {
		return l.Base
	}
	hi, extra := bits.Mul64(l.Delta, uint64(round))
	if hi != 0 || extra > math.MaxUint64-l.Base {
		return math.MaxUint64
	}
	return l.Base + extra
}

// Fixed is a policy that uses the same duration for every step and round.
type Fixed uint64

// Duration returns the fixed duration.
func (f Fixed) Duration(vetomint.Step, vetomint.Round) uint64 {
	return uint64(f)
}
