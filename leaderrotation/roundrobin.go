package leaderrotation

import "github.com/relab/vetomint"

const NameRoundRobin = "round-robin"

type roundRobin struct {
	numValidators int
}

// NewRoundRobin returns a leader rotation that walks the validators in leader order.
func NewRoundRobin(info vetomint.HeightInfo) LeaderRotation {
	return roundRobin{numValidators: info.NumValidators()}
}

// Proposer returns the proposer of the given round.
func (rr roundRobin) Proposer(round vetomint.Round) vetomint.ValidatorIndex {
	return ChooseRoundRobin(round, rr.numValidators)
}

// ChooseRoundRobin returns validators[round mod n].
// Negative rounds and empty validator sets map to validator 0.
func ChooseRoundRobin(round vetomint.Round, numValidators int) vetomint.ValidatorIndex {
	if numValidators <= 0 || round < 0 {
		return 0
	}
	return vetomint.ValidatorIndex(int(round) % numValidators)
}
