// Package votetally records prevotes and precommits for a single height and answers quorum queries.
//
// Votes are stored in an indexed table (round × kind × validator), so recording a vote and
// detecting equivocation are constant-time operations. A validator may cast at most one vote
// of each kind per round; a second, conflicting vote is rejected and the first one stands.
package votetally

import (
	"sort"

	"github.com/relab/vetomint"
)

// Result describes what happened to a vote passed to Add.
type Result uint8

const (
	// Added means that the vote was recorded.
	Added Result = iota
	// Duplicate means that the same vote was already recorded.
	Duplicate
	// Equivocation means that the validator already voted for a different target.
	Equivocation
	// Rejected means that the vote referred to an unknown validator or an invalid round.
	Rejected
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case Duplicate:
		return "duplicate"
	case Equivocation:
		return "equivocation"
	default:
		return "rejected"
	}
}

// Vote is a recorded vote.
type Vote struct {
	Signer vetomint.ValidatorIndex
	Target vetomint.Target
}

type kindVotes struct {
	targets []vetomint.Target // by validator index
	voted   []bool            // by validator index
	power   map[vetomint.Target]uint64
	sum     uint64
}

type roundVotes struct {
	kinds [2]kindVotes
	// validators that cast any vote in the round; each counted once
	participants  []bool
	participation uint64
}

// Tally holds all votes of a height.
type Tally struct {
	powers []uint64
	total  uint64
	rounds map[vetomint.Round]*roundVotes
}

// New returns an empty tally for the validators of the given height.
func New(info vetomint.HeightInfo) *Tally {
	powers := make([]uint64, len(info.Validators))
	copy(powers, info.Validators)
	return &Tally{
		powers: powers,
		total:  info.TotalPower(),
		rounds: make(map[vetomint.Round]*roundVotes),
	}
}

func (t *Tally) newRound() *roundVotes {
	n := len(t.powers)
	rv := &roundVotes{participants: make([]bool, n)}
	for i := range rv.kinds {
		rv.kinds[i] = kindVotes{
			targets: make([]vetomint.Target, n),
			voted:   make([]bool, n),
			power:   make(map[vetomint.Target]uint64),
		}
	}
	return rv
}

func (t *Tally) kindVotes(kind vetomint.VoteKind, round vetomint.Round) *kindVotes {
	rv, ok := t.rounds[round]
	if !ok {
		return nil
	}
	return &rv.kinds[kind]
}

// Add records a vote. If the result is Equivocation, the previously recorded target is returned.
func (t *Tally) Add(kind vetomint.VoteKind, round vetomint.Round, signer vetomint.ValidatorIndex, target vetomint.Target) (Result, vetomint.Target) {
	if round < 0 || signer < 0 || int(signer) >= len(t.powers) || kind > vetomint.KindPrecommit {
		return Rejected, vetomint.Nil
	}
	rv, ok := t.rounds[round]
	if !ok {
		rv = t.newRound()
		t.rounds[round] = rv
	}
	kv := &rv.kinds[kind]
	if kv.voted[signer] {
		existing := kv.targets[signer]
		if existing == target {
			return Duplicate, existing
		}
		return Equivocation, existing
	}
	power := t.powers[signer]
	kv.voted[signer] = true
	kv.targets[signer] = target
	kv.power[target] += power
	kv.sum += power
	if !rv.participants[signer] {
		rv.participants[signer] = true
		rv.participation += power
	}
	return Added, vetomint.Nil
}

// Vote returns the vote of the validator, if any.
func (t *Tally) Vote(kind vetomint.VoteKind, round vetomint.Round, signer vetomint.ValidatorIndex) (vetomint.Target, bool) {
	kv := t.kindVotes(kind, round)
	if kv == nil || signer < 0 || int(signer) >= len(kv.voted) || !kv.voted[signer] {
		return vetomint.Nil, false
	}
	return kv.targets[signer], true
}

// Votes returns the votes of the given kind and round, sorted by validator index.
func (t *Tally) Votes(kind vetomint.VoteKind, round vetomint.Round) []Vote {
	kv := t.kindVotes(kind, round)
	if kv == nil {
		return nil
	}
	var votes []Vote
	for i, ok := range kv.voted {
		if ok {
			votes = append(votes, Vote{Signer: vetomint.ValidatorIndex(i), Target: kv.targets[i]})
		}
	}
	return votes
}

// Power returns the voting power that voted for the target.
func (t *Tally) Power(kind vetomint.VoteKind, round vetomint.Round, target vetomint.Target) uint64 {
	kv := t.kindVotes(kind, round)
	if kv == nil {
		return 0
	}
	return kv.power[target]
}

// Sum returns the voting power that voted for any target.
func (t *Tally) Sum(kind vetomint.VoteKind, round vetomint.Round) uint64 {
	kv := t.kindVotes(kind, round)
	if kv == nil {
		return 0
	}
	return kv.sum
}

// Quorum returns the target that has a quorum, if any.
// At most one target can have a quorum since each validator is counted once.
func (t *Tally) Quorum(kind vetomint.VoteKind, round vetomint.Round) (vetomint.Target, bool) {
	kv := t.kindVotes(kind, round)
	if kv == nil {
		return vetomint.Nil, false
	}
	for target, power := range kv.power {
		if vetomint.HasQuorum(power, t.total) {
			return target, true
		}
	}
	return vetomint.Nil, false
}

// HasQuorumFor returns true if the target has a quorum.
func (t *Tally) HasQuorumFor(kind vetomint.VoteKind, round vetomint.Round, target vetomint.Target) bool {
	return vetomint.HasQuorum(t.Power(kind, round, target), t.total)
}

// HasQuorumAny returns true if a quorum voted, for any mix of targets.
func (t *Tally) HasQuorumAny(kind vetomint.VoteKind, round vetomint.Round) bool {
	return vetomint.HasQuorum(t.Sum(kind, round), t.total)
}

// HasFaultThreshold returns true if more than a third of the power voted, for any mix of targets.
func (t *Tally) HasFaultThreshold(kind vetomint.VoteKind, round vetomint.Round) bool {
	return vetomint.HasFaultThreshold(t.Sum(kind, round), t.total)
}

// Participation returns the power of the distinct validators that cast any vote in the round.
func (t *Tally) Participation(round vetomint.Round) uint64 {
	rv, ok := t.rounds[round]
	if !ok {
		return 0
	}
	return rv.participation
}

// HasFaultThresholdParticipation returns true if more than a third of the power
// cast at least one vote in the round.
func (t *Tally) HasFaultThresholdParticipation(round vetomint.Round) bool {
	return vetomint.HasFaultThreshold(t.Participation(round), t.total)
}

// Rounds returns the rounds that have votes, in increasing order.
func (t *Tally) Rounds() []vetomint.Round {
	rounds := make([]vetomint.Round, 0, len(t.rounds))
	for r := range t.rounds {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
	return rounds
}

// TotalPower returns the total voting power of the height.
func (t *Tally) TotalPower() uint64 {
	return t.total
}
