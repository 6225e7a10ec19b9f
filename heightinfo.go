package vetomint

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// HeightInfo is an immutable set of information that is used to perform the consensus for a single height.
type HeightInfo struct {
	// Validators lists the voting powers sorted by the leader order.
	// ValidatorIndex is used to index this list.
	Validators []uint64 `json:"validators"`
	// ThisNodeIndex is the index of this node.
	ThisNodeIndex ValidatorIndex `json:"this_node_index"`
	// Timestamp marks the beginning of round 0.
	Timestamp Timestamp `json:"timestamp"`
	// ConsensusParams holds the consensus parameters.
	ConsensusParams ConsensusParams `json:"consensus_params"`
}

// NewHeightInfo returns a HeightInfo for the given voting powers.
func NewHeightInfo(validators []uint64, this ValidatorIndex, start Timestamp, params ConsensusParams) HeightInfo {
	vals := make([]uint64, len(validators))
	copy(vals, validators)
	return HeightInfo{
		Validators:      vals,
		ThisNodeIndex:   this,
		Timestamp:       start,
		ConsensusParams: params,
	}
}

// Validate checks that the height info can be used to run the consensus.
// All problems are reported at once.
func (hi HeightInfo) Validate() (err error) {
	if len(hi.Validators) == 0 {
		err = multierr.Append(err, ErrNoValidators)
	}
	var total uint64
	for i, power := range hi.Validators {
		if total > math.MaxUint64-power {
			err = multierr.Append(err, fmt.Errorf("voting power of validator %d overflows the total", i))
			break
		}
		total += power
	}
	if len(hi.Validators) > 0 && total == 0 {
		err = multierr.Append(err, ErrZeroPower)
	}
	if !hi.IsValidator(hi.ThisNodeIndex) {
		err = multierr.Append(err, fmt.Errorf("%w: %d (validators: %d)", ErrNodeIndex, hi.ThisNodeIndex, len(hi.Validators)))
	}
	if hi.ConsensusParams.TimeoutMS == 0 {
		err = multierr.Append(err, ErrZeroTimeout)
	}
	return err
}

// NumValidators returns the number of validators.
func (hi HeightInfo) NumValidators() int {
	return len(hi.Validators)
}

// IsValidator returns true if the index refers to a validator of this height.
func (hi HeightInfo) IsValidator(id ValidatorIndex) bool {
	return id >= 0 && int(id) < len(hi.Validators)
}

// Power returns the voting power of the validator, or 0 for an unknown index.
func (hi HeightInfo) Power(id ValidatorIndex) uint64 {
	if !hi.IsValidator(id) {
		return 0
	}
	return hi.Validators[id]
}

// TotalPower returns the sum of all voting powers.
func (hi HeightInfo) TotalPower() uint64 {
	var total uint64
	for _, power := range hi.Validators {
		total += power
	}
	return total
}
