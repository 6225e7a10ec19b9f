package vetomint

import "fmt"

// ConsensusEvent is an event that (potentially) triggers a state transition.
//
// Events carry no cryptographic material: the lower layer verifies the raw messages
// and refines them into these events, keeping the mapping from the actual keys and blocks
// to the integer indices used here.
type ConsensusEvent interface {
	// EventTime returns the time at which the event was observed.
	EventTime() Timestamp
	isConsensusEvent()
}

// BlockProposal informs that the node has received a block proposal.
type BlockProposal struct {
	Proposal BlockIdentifier
	Proposer ValidatorIndex
	Round    Round
	// HasValidRound marks a re-proposal: the proposer saw a prevote quorum for the block in
	// ValidRound. The zero value is a fresh proposal and ValidRound is ignored.
	HasValidRound bool
	ValidRound    Round
	Time          Timestamp
}

// ProposalFavor informs whether this node is in favor of a proposal,
// that is, whether the application considers the block valid.
type ProposalFavor struct {
	Proposal BlockIdentifier
	Favor    bool
	Time     Timestamp
}

// BlockProposalBroadcasted informs that a CreateAndBroadcastProposal response has been completed.
type BlockProposalBroadcasted struct {
	Proposal BlockIdentifier
	Round    Round
	Time     Timestamp
}

// Prevote informs that the node has received a prevote for a block.
type Prevote struct {
	Proposal BlockIdentifier
	Signer   ValidatorIndex
	Round    Round
	Time     Timestamp
}

// Precommit informs that the node has received a precommit for a block.
type Precommit struct {
	Proposal BlockIdentifier
	Signer   ValidatorIndex
	Round    Round
	Time     Timestamp
}

// NilPrevote informs that the node has received a nil prevote.
type NilPrevote struct {
	Signer ValidatorIndex
	Round  Round
	Time   Timestamp
}

// NilPrecommit informs that the node has received a nil precommit.
type NilPrecommit struct {
	Signer ValidatorIndex
	Round  Round
	Time   Timestamp
}

// Timer informs that time has passed.
type Timer struct {
	Time Timestamp
}

func (e BlockProposal) EventTime() Timestamp            { return e.Time }
func (e ProposalFavor) EventTime() Timestamp            { return e.Time }
func (e BlockProposalBroadcasted) EventTime() Timestamp { return e.Time }
func (e Prevote) EventTime() Timestamp                  { return e.Time }
func (e Precommit) EventTime() Timestamp                { return e.Time }
func (e NilPrevote) EventTime() Timestamp               { return e.Time }
func (e NilPrecommit) EventTime() Timestamp             { return e.Time }
func (e Timer) EventTime() Timestamp                    { return e.Time }

func (BlockProposal) isConsensusEvent()            {}
func (ProposalFavor) isConsensusEvent()            {}
func (BlockProposalBroadcasted) isConsensusEvent() {}
func (Prevote) isConsensusEvent()                  {}
func (Precommit) isConsensusEvent()                {}
func (NilPrevote) isConsensusEvent()               {}
func (NilPrecommit) isConsensusEvent()             {}
func (Timer) isConsensusEvent()                    {}

// NewBlockProposal returns a fresh proposal event, i.e. one without a valid round.
func NewBlockProposal(proposal BlockIdentifier, proposer ValidatorIndex, round Round, time Timestamp) BlockProposal {
	return BlockProposal{Proposal: proposal, Proposer: proposer, Round: round, Time: time}
}

// NewReproposal returns a proposal event for a block that the proposer saw a prevote quorum
// for in validRound. A nil validRound gives a fresh proposal.
func NewReproposal(proposal BlockIdentifier, proposer ValidatorIndex, round, validRound Round, time Timestamp) BlockProposal {
	p := NewBlockProposal(proposal, proposer, round, time)
	if !validRound.IsNil() {
		p.HasValidRound = true
		p.ValidRound = validRound
	}
	return p
}

// ClaimedValidRound returns the valid round of a re-proposal, or NilRound for a fresh proposal.
func (e BlockProposal) ClaimedValidRound() Round {
	if !e.HasValidRound {
		return NilRound
	}
	return e.ValidRound
}

// VoteOf extracts the vote carried by a vote event.
// ok is false if the event is not a vote.
func VoteOf(event ConsensusEvent) (kind VoteKind, signer ValidatorIndex, round Round, target Target, ok bool) {
	switch e := event.(type) {
	case Prevote:
		return KindPrevote, e.Signer, e.Round, ForBlock(e.Proposal), true
	case NilPrevote:
		return KindPrevote, e.Signer, e.Round, Nil, true
	case Precommit:
		return KindPrecommit, e.Signer, e.Round, ForBlock(e.Proposal), true
	case NilPrecommit:
		return KindPrecommit, e.Signer, e.Round, Nil, true
	}
	return 0, 0, 0, Nil, false
}

func (e BlockProposal) String() string {
	return fmt.Sprintf("BlockProposal{ block: %d, proposer: %d, round: %d, valid round: %v, time: %d }",
		e.Proposal, e.Proposer, e.Round, e.ClaimedValidRound(), e.Time)
}

func (e ProposalFavor) String() string {
	return fmt.Sprintf("ProposalFavor{ block: %d, favor: %t, time: %d }", e.Proposal, e.Favor, e.Time)
}

func (e BlockProposalBroadcasted) String() string {
	return fmt.Sprintf("BlockProposalBroadcasted{ block: %d, round: %d, time: %d }", e.Proposal, e.Round, e.Time)
}

func (e Prevote) String() string {
	return fmt.Sprintf("Prevote{ block: %d, signer: %d, round: %d, time: %d }", e.Proposal, e.Signer, e.Round, e.Time)
}

func (e Precommit) String() string {
	return fmt.Sprintf("Precommit{ block: %d, signer: %d, round: %d, time: %d }", e.Proposal, e.Signer, e.Round, e.Time)
}

func (e NilPrevote) String() string {
	return fmt.Sprintf("NilPrevote{ signer: %d, round: %d, time: %d }", e.Signer, e.Round, e.Time)
}

func (e NilPrecommit) String() string {
	return fmt.Sprintf("NilPrecommit{ signer: %d, round: %d, time: %d }", e.Signer, e.Round, e.Time)
}

func (e Timer) String() string {
	return fmt.Sprintf("Timer{ time: %d }", e.Time)
}
