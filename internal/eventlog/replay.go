package eventlog

import (
	"fmt"
	"reflect"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/consensus"
)

// Mismatch describes an entry for which the replayed responses differ from the recorded ones.
type Mismatch struct {
	Index    int
	Event    vetomint.ConsensusEvent
	Recorded []vetomint.ConsensusResponse
	Replayed []vetomint.ConsensusResponse
}

func (m Mismatch) String() string {
	return fmt.Sprintf("entry %d (%v): recorded %v, replayed %v", m.Index, m.Event, m.Recorded, m.Replayed)
}

// Result is the outcome of a replay.
type Result struct {
	State      *consensus.State
	Steps      int
	Mismatches []Mismatch
}

// Replay delivers the recorded events to a fresh consensus instance and compares the responses
// with the recorded ones. An error is returned only if the consensus instance fails.
func Replay(info vetomint.HeightInfo, entries []Entry, opts ...consensus.Option) (*Result, error) {
	state, err := consensus.New(info, opts...)
	if err != nil {
		return nil, err
	}
	res := &Result{State: state}
	for i, entry := range entries {
		if entry.Event == nil {
			continue
		}
		replayed, err := consensus.Progress(state, entry.Event)
		res.Steps++
		if err != nil {
			return res, fmt.Errorf("replay of entry %d (%v) failed: %w", i, entry.Event, err)
		}
		if !sameResponses(entry.Responses, replayed) {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Index:    i,
				Event:    entry.Event,
				Recorded: entry.Responses,
				Replayed: replayed,
			})
		}
	}
	return res, nil
}

func sameResponses(a, b []vetomint.ConsensusResponse) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || reflect.DeepEqual(a, b)
}
