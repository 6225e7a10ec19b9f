package vetomint

import (
	"fmt"
	"strconv"
)

// ValidatorIndex is the index of a validator within a single height.
// The mapping from an actual public key to an index may differ between heights.
type ValidatorIndex int

// BlockIdentifier uniquely identifies a block within a single height.
// Like ValidatorIndex, the mapping from an actual block to an identifier is height-local.
type BlockIdentifier int

// Timestamp is a UNIX timestamp measured in milliseconds.
type Timestamp int64

// Round is a numbered attempt within a height to agree on a block.
type Round int

// NilRound marks the absence of a round, e.g. the locked round before the first lock.
const NilRound Round = -1

// IsNil returns true if r is NilRound (or any other negative round).
func (r Round) IsNil() bool {
	return r < 0
}

func (r Round) String() string {
	if r.IsNil() {
		return "nil"
	}
	return strconv.Itoa(int(r))
}

// Step is the phase within the current round.
type Step uint8

const (
	// StepPropose waits for a proposal from the proposer of the round.
	StepPropose Step = iota
	// StepPrevote waits for a prevote quorum.
	StepPrevote
	// StepPrecommit waits for a precommit quorum.
	StepPrecommit
	// StepDecided is terminal for the height.
	StepDecided
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "Propose"
	case StepPrevote:
		return "Prevote"
	case StepPrecommit:
		return "Precommit"
	case StepDecided:
		return "Decided"
	default:
		return fmt.Sprintf("Step(%d)", uint8(s))
	}
}

// VoteKind distinguishes the two voting steps.
type VoteKind uint8

const (
	// KindPrevote is a vote cast in the prevote step.
	KindPrevote VoteKind = iota
	// KindPrecommit is a vote cast in the precommit step.
	KindPrecommit
)

func (k VoteKind) String() string {
	if k == KindPrecommit {
		return "precommit"
	}
	return "prevote"
}

// ConsensusParams holds the tunable parameters of the consensus.
type ConsensusParams struct {
	// TimeoutMS is the base timeout in milliseconds.
	// All per-round and per-step deadlines are derived from it.
	TimeoutMS uint64 `json:"timeout_ms" mapstructure:"timeout-ms"`
}
