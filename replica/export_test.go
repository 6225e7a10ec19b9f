package replica

import (
	"github.com/relab/vetomint"
	"github.com/relab/vetomint/consensus"
)

// SetStep replaces the consensus step function of the replica.
func SetStep(r *Replica, step func(*consensus.State, vetomint.ConsensusEvent) ([]vetomint.ConsensusResponse, error)) {
	r.step = step
}
