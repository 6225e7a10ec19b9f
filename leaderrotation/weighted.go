package leaderrotation

import (
	"fmt"
	"math/rand"

	wr "github.com/mroth/weightedrand"

	"github.com/relab/vetomint"
)

const NameWeighted = "weighted"

// weighted picks proposers at random, proportionally to their voting power.
// The random source is reseeded from the height timestamp and the round,
// so all nodes sharing the same HeightInfo pick the same proposer.
type weighted struct {
	chooser *wr.Chooser
	seed    int64
}

// NewWeighted returns a power-weighted leader rotation.
func NewWeighted(info vetomint.HeightInfo) (LeaderRotation, error) {
	choices := make([]wr.Choice, 0, info.NumValidators())
	for i, power := range info.Validators {
		choices = append(choices, wr.NewChoice(vetomint.ValidatorIndex(i), uint(power)))
	}
	chooser, err := wr.NewChooser(choices...)
	if err != nil {
		return nil, fmt.Errorf("weighted leader rotation: %w", err)
	}
	return &weighted{chooser: chooser, seed: int64(info.Timestamp)}, nil
}

// Proposer returns the proposer of the given round.
func (w *weighted) Proposer(round vetomint.Round) vetomint.ValidatorIndex {
	rnd := rand.New(rand.NewSource(w.seed + int64(round)))
	return w.chooser.PickSource(rnd).(vetomint.ValidatorIndex)
}
