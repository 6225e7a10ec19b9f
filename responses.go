package vetomint

import "fmt"

// ConsensusResponse is a side effect emitted by the consensus that the lower layer must perform.
// Responses must be executed in the order they were emitted.
type ConsensusResponse interface {
	isConsensusResponse()
}

// CreateAndBroadcastProposal asks the lower layer to create, sign and broadcast a proposal for Round,
// and to report back with a BlockProposalBroadcasted event.
//
// If ValidValue is not nil, the proposer has seen a prevote quorum for that block in ValidRound
// and the lower layer must re-propose exactly that block, announcing ValidRound.
type CreateAndBroadcastProposal struct {
	Round      Round
	ValidValue Target
	ValidRound Round
}

// BroadcastPrevote asks the lower layer to sign and broadcast a prevote.
type BroadcastPrevote struct {
	Proposal BlockIdentifier
	Round    Round
}

// BroadcastPrecommit asks the lower layer to sign and broadcast a precommit.
type BroadcastPrecommit struct {
	Proposal BlockIdentifier
	Round    Round
}

// BroadcastNilPrevote asks the lower layer to sign and broadcast a nil prevote.
type BroadcastNilPrevote struct {
	Round Round
}

// BroadcastNilPrecommit asks the lower layer to sign and broadcast a nil precommit.
type BroadcastNilPrecommit struct {
	Round Round
}

// FinalizeBlock reports the decision of the height. It is the last response of a height.
type FinalizeBlock struct {
	Proposal BlockIdentifier
}

// ViolationReport reports a protocol deviation by a validator.
// It is informational; the lower layer may punish the violator or just log it.
type ViolationReport struct {
	Violator    ValidatorIndex
	Description string
}

func (CreateAndBroadcastProposal) isConsensusResponse() {}
func (BroadcastPrevote) isConsensusResponse()           {}
func (BroadcastPrecommit) isConsensusResponse()         {}
func (BroadcastNilPrevote) isConsensusResponse()        {}
func (BroadcastNilPrecommit) isConsensusResponse()      {}
func (FinalizeBlock) isConsensusResponse()              {}
func (ViolationReport) isConsensusResponse()            {}

func (r CreateAndBroadcastProposal) String() string {
	if r.ValidValue.IsNil() {
		return fmt.Sprintf("CreateAndBroadcastProposal{ round: %d }", r.Round)
	}
	return fmt.Sprintf("CreateAndBroadcastProposal{ round: %d, valid: %v@%v }", r.Round, r.ValidValue, r.ValidRound)
}

func (r BroadcastPrevote) String() string {
	return fmt.Sprintf("BroadcastPrevote{ block: %d, round: %d }", r.Proposal, r.Round)
}

func (r BroadcastPrecommit) String() string {
	return fmt.Sprintf("BroadcastPrecommit{ block: %d, round: %d }", r.Proposal, r.Round)
}

func (r BroadcastNilPrevote) String() string {
	return fmt.Sprintf("BroadcastNilPrevote{ round: %d }", r.Round)
}

func (r BroadcastNilPrecommit) String() string {
	return fmt.Sprintf("BroadcastNilPrecommit{ round: %d }", r.Round)
}

func (r FinalizeBlock) String() string {
	return fmt.Sprintf("FinalizeBlock{ block: %d }", r.Proposal)
}

func (r ViolationReport) String() string {
	return fmt.Sprintf("ViolationReport{ violator: %d, %s }", r.Violator, r.Description)
}
