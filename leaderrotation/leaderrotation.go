// Package leaderrotation provides proposer selection algorithms for a single height.
package leaderrotation

import (
	"fmt"

	"github.com/relab/vetomint"
)

// LeaderRotation chooses the proposer of each round.
// Implementations must be deterministic: every correct node must agree on the proposer.
type LeaderRotation interface {
	// Proposer returns the index of the validator that proposes in the given round.
	Proposer(round vetomint.Round) vetomint.ValidatorIndex
}

// New returns the leader rotation algorithm with the given name.
func New(name string, info vetomint.HeightInfo) (lr LeaderRotation, err error) {
	switch name {
	case "":
		fallthrough // default to round-robin if no name is provided
	case NameRoundRobin:
		lr = NewRoundRobin(info)
	case NameWeighted:
		lr, err = NewWeighted(info)
	default:
		return nil, fmt.Errorf("invalid leader-rotation algorithm: '%s'", name)
	}
	return lr, err
}

// Names returns the names of the available algorithms.
func Names() []string {
	return []string{NameRoundRobin, NameWeighted}
}
