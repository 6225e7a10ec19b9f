// Package consensus implements the round-based agreement state machine for a single height.
//
// A State is created from the immutable HeightInfo of the height and is advanced one event at
// a time with Progress, which returns the responses that the caller must execute, in order.
// The state machine never blocks, spawns goroutines or reads a clock: waiting for votes or
// timeouts is represented by state retained between calls, and time only advances through the
// timestamps carried by the events.
//
// The rules follow the Tendermint algorithm. A node prevotes for the proposal of the round if
// the application favors it and the node's lock permits it, precommits a block once it sees a
// prevote quorum for it (locking on it), and decides once it sees a precommit quorum. Rounds
// advance on a nil precommit quorum, on the precommit timeout, or when votes from more than a
// third of the voting power arrive for a later round.
package consensus

import (
	"fmt"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/leaderrotation"
	"github.com/relab/vetomint/logging"
	"github.com/relab/vetomint/timeout"
	"github.com/relab/vetomint/votetally"
)

type proposal struct {
	block      vetomint.BlockIdentifier
	proposer   vetomint.ValidatorIndex
	validRound vetomint.Round
	time       vetomint.Timestamp
}

// State is the consensus state of a single height.
// It is owned by a single caller and must not be used concurrently.
type State struct {
	info     vetomint.HeightInfo
	logger   logging.Logger
	leaders  leaderrotation.LeaderRotation
	tally    *votetally.Tally
	timeouts *timeout.Scheduler

	started bool
	now     vetomint.Timestamp // latest time seen

	round vetomint.Round
	step  vetomint.Step

	lockedValue vetomint.Target
	lockedRound vetomint.Round
	validValue  vetomint.Target
	validRound  vetomint.Round
	decision    vetomint.Target

	proposals map[vetomint.Round]proposal
	favor     map[vetomint.BlockIdentifier]bool
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger used by the state machine.
func WithLogger(logger logging.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

// WithLeaderRotation replaces the default round-robin proposer selection.
// Every node of the height must use the same algorithm.
func WithLeaderRotation(lr leaderrotation.LeaderRotation) Option {
	return func(s *State) {
		s.leaders = lr
	}
}

// WithTimeoutPolicy replaces the default linear timeout policy.
func WithTimeoutPolicy(policy timeout.Policy) Option {
	return func(s *State) {
		s.timeouts = timeout.New(policy)
	}
}

// New prepares the initial state of the consensus for a height: round 0, step Propose,
// no lock, no valid value and no decision. The round-0 actions are performed by the first
// call to Progress.
func New(info vetomint.HeightInfo, opts ...Option) (*State, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid height info: %w", err)
	}
	info = vetomint.NewHeightInfo(info.Validators, info.ThisNodeIndex, info.Timestamp, info.ConsensusParams)
	s := &State{
		info:        info,
		logger:      logging.Nop(),
		leaders:     leaderrotation.NewRoundRobin(info),
		tally:       votetally.New(info),
		timeouts:    timeout.New(timeout.NewLinear(info.ConsensusParams)),
		now:         info.Timestamp,
		step:        vetomint.StepPropose,
		lockedRound: vetomint.NilRound,
		validRound:  vetomint.NilRound,
		proposals:   make(map[vetomint.Round]proposal),
		favor:       make(map[vetomint.BlockIdentifier]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HeightInfo returns the height info the state was created with.
func (s *State) HeightInfo() vetomint.HeightInfo {
	return s.info
}

// Round returns the current round.
func (s *State) Round() vetomint.Round {
	return s.round
}

// Step returns the current step.
func (s *State) Step() vetomint.Step {
	return s.step
}

// Locked returns the locked value and the round it was locked in.
// The value is nil and the round is NilRound before the first lock.
func (s *State) Locked() (vetomint.Target, vetomint.Round) {
	return s.lockedValue, s.lockedRound
}

// Valid returns the highest-round value known to have reached a prevote quorum, and its round.
func (s *State) Valid() (vetomint.Target, vetomint.Round) {
	return s.validValue, s.validRound
}

// Decision returns the decided block, if any.
func (s *State) Decision() (vetomint.BlockIdentifier, bool) {
	return s.decision.Block()
}

// Proposal returns the block proposed in the given round, if it has been received.
func (s *State) Proposal(round vetomint.Round) (vetomint.BlockIdentifier, bool) {
	p, ok := s.proposals[round]
	return p.block, ok
}

// Favor returns the application's verdict on a block, if it has been delivered.
func (s *State) Favor(block vetomint.BlockIdentifier) (favor, ok bool) {
	favor, ok = s.favor[block]
	return favor, ok
}

// Vote returns the vote that the validator cast in the given round, if any.
func (s *State) Vote(kind vetomint.VoteKind, round vetomint.Round, signer vetomint.ValidatorIndex) (vetomint.Target, bool) {
	return s.tally.Vote(kind, round, signer)
}

// Votes returns all votes of the given kind in the round, sorted by validator.
func (s *State) Votes(kind vetomint.VoteKind, round vetomint.Round) []votetally.Vote {
	return s.tally.Votes(kind, round)
}

// Deadline returns the pending deadline of a step in the current round.
func (s *State) Deadline(step vetomint.Step) (vetomint.Timestamp, bool) {
	return s.timeouts.Deadline(step)
}

// Proposer returns the proposer of the given round.
func (s *State) Proposer(round vetomint.Round) vetomint.ValidatorIndex {
	return s.leaders.Proposer(round)
}

func (s *State) String() string {
	return fmt.Sprintf("State{ round: %d, step: %v, locked: %v@%v, valid: %v@%v, decision: %v }",
		s.round, s.step, s.lockedValue, s.lockedRound, s.validValue, s.validRound, s.decision)
}

// checkInvariants reports breaches of the invariants that protect safety.
func (s *State) checkInvariants() error {
	if s.lockedRound.IsNil() != s.lockedValue.IsNil() {
		return fmt.Errorf("%w: locked value %v with locked round %v", vetomint.ErrInvariantViolated, s.lockedValue, s.lockedRound)
	}
	if s.validRound.IsNil() != s.validValue.IsNil() {
		return fmt.Errorf("%w: valid value %v with valid round %v", vetomint.ErrInvariantViolated, s.validValue, s.validRound)
	}
	if !s.lockedRound.IsNil() && s.lockedRound > s.validRound {
		return fmt.Errorf("%w: locked round %v > valid round %v", vetomint.ErrInvariantViolated, s.lockedRound, s.validRound)
	}
	if s.lockedRound > s.round || s.validRound > s.round {
		return fmt.Errorf("%w: lock or valid value from a future round (round %d, locked %v, valid %v)",
			vetomint.ErrInvariantViolated, s.round, s.lockedRound, s.validRound)
	}
	return nil
}
