package consensus

import (
	"github.com/relab/vetomint"
)

// evaluate applies the rules until none of them changes the round or step.
func (s *State) evaluate(out *responses) {
	for s.step != vetomint.StepDecided {
		if !s.apply(out) {
			return
		}
	}
}

// apply fires at most one round or step transition and reports whether it did.
// The order matters: a decision in any round wins over everything else, and round skips
// are taken before the rules of the current round are considered.
func (s *State) apply(out *responses) bool {
	if s.tryDecide(out) {
		return true
	}
	if s.trySkipRound(out) {
		return true
	}
	s.updateValid()

	switch s.step {
	case vetomint.StepPropose:
		if s.tryPrevote(out) {
			return true
		}
	case vetomint.StepPrevote:
		if s.tryPrecommit(out) {
			return true
		}
		if s.tally.HasFaultThreshold(vetomint.KindPrevote, s.round) {
			if at, ok := s.timeouts.Schedule(vetomint.StepPrevote, s.round, s.now); ok {
				s.logger.Debugf("OnPrevote[round=%d]: prevote timeout at %d", s.round, at)
			}
		}
	}

	if s.tally.HasFaultThreshold(vetomint.KindPrecommit, s.round) {
		if at, ok := s.timeouts.Schedule(vetomint.StepPrecommit, s.round, s.now); ok {
			s.logger.Debugf("OnPrecommit[round=%d]: precommit timeout at %d", s.round, at)
		}
	}
	if target, ok := s.tally.Quorum(vetomint.KindPrecommit, s.round); ok && target.IsNil() {
		s.logger.Debugf("OnPrecommit[round=%d]: nil quorum", s.round)
		s.enterRound(s.round+1, s.now, out)
		return true
	}
	return false
}

func (s *State) tryDecide(out *responses) bool {
	for _, r := range s.tally.Rounds() {
		target, ok := s.tally.Quorum(vetomint.KindPrecommit, r)
		if !ok {
			continue
		}
		block, ok := target.Block()
		if !ok {
			continue
		}
		s.logger.Debugf("OnPrecommit[round=%d]: decided block %d", r, block)
		s.decision = target
		s.step = vetomint.StepDecided
		s.timeouts.Reset(s.round)
		out.emit(vetomint.FinalizeBlock{Proposal: block})
		return true
	}
	return false
}

// trySkipRound moves to the highest later round in which validators with more than a third
// of the power have voted.
func (s *State) trySkipRound(out *responses) bool {
	rounds := s.tally.Rounds()
	for i := len(rounds) - 1; i >= 0; i-- {
		r := rounds[i]
		if r <= s.round {
			return false
		}
		if s.tally.HasFaultThresholdParticipation(r) {
			s.logger.Debugf("OnVote[round=%d]: skipping to round %d", s.round, r)
			s.enterRound(r, s.now, out)
			return true
		}
	}
	return false
}

// updateValid records the block with a prevote quorum in the highest round not after the
// current one.
func (s *State) updateValid() {
	for _, r := range s.tally.Rounds() {
		if r > s.round {
			break
		}
		if r <= s.validRound {
			continue
		}
		target, ok := s.tally.Quorum(vetomint.KindPrevote, r)
		if !ok || target.IsNil() {
			continue
		}
		s.logger.Debugf("OnPrevote[round=%d]: valid value %v from round %d", s.round, target, r)
		s.validValue = target
		s.validRound = r
	}
}

func (s *State) tryPrevote(out *responses) bool {
	p, ok := s.proposals[s.round]
	if !ok {
		return false
	}
	favor, ok := s.favor[p.block]
	if !ok {
		return false
	}
	if favor && s.acceptable(p) {
		s.logger.Debugf("OnProposal[round=%d]: prevote for block %d", s.round, p.block)
		out.emit(vetomint.BroadcastPrevote{Proposal: p.block, Round: s.round})
	} else {
		s.logger.Debugf("OnProposal[round=%d]: nil prevote (favor: %t, locked: %v@%v)",
			s.round, favor, s.lockedValue, s.lockedRound)
		out.emit(vetomint.BroadcastNilPrevote{Round: s.round})
	}
	s.enterPrevote()
	return true
}

// acceptable reports whether the lock permits a prevote for the proposal. A locked node may
// only vote for another block if the proposal carries a valid round at or after the lock in
// which this node has seen a prevote quorum for that block.
func (s *State) acceptable(p proposal) bool {
	if s.lockedValue.IsNil() {
		return true
	}
	target := vetomint.ForBlock(p.block)
	if s.lockedValue == target {
		return true
	}
	vr := p.validRound
	return !vr.IsNil() && vr < s.round && vr >= s.lockedRound &&
		s.tally.HasQuorumFor(vetomint.KindPrevote, vr, target)
}

func (s *State) tryPrecommit(out *responses) bool {
	target, ok := s.tally.Quorum(vetomint.KindPrevote, s.round)
	if !ok {
		return false
	}
	block, ok := target.Block()
	switch {
	case !ok:
		s.logger.Debugf("OnPrevote[round=%d]: nil quorum", s.round)
		out.emit(vetomint.BroadcastNilPrecommit{Round: s.round})
	case s.favor[block]:
		s.logger.Debugf("OnPrevote[round=%d]: locking on block %d", s.round, block)
		s.lockedValue = target
		s.lockedRound = s.round
		out.emit(vetomint.BroadcastPrecommit{Proposal: block, Round: s.round})
	default:
		s.logger.Debugf("OnPrevote[round=%d]: quorum for block %d without favor", s.round, block)
		out.emit(vetomint.BroadcastNilPrecommit{Round: s.round})
	}
	s.enterPrecommit()
	return true
}

// enterRound starts a new round at time now. The propose timeout is scheduled on every node,
// and the proposer of the round is asked for a proposal, re-proposing its valid value if it has one.
func (s *State) enterRound(round vetomint.Round, now vetomint.Timestamp, out *responses) {
	s.logger.Debugf("EnterRound[round=%d]: entering round %d at %d", s.round, round, now)
	s.round = round
	s.step = vetomint.StepPropose
	s.timeouts.Reset(round)
	s.timeouts.Schedule(vetomint.StepPropose, round, now)

	if s.leaders.Proposer(round) != s.info.ThisNodeIndex {
		return
	}
	create := vetomint.CreateAndBroadcastProposal{Round: round, ValidRound: vetomint.NilRound}
	if !s.validValue.IsNil() {
		create.ValidValue = s.validValue
		create.ValidRound = s.validRound
	}
	out.emit(create)
}

func (s *State) enterPrevote() {
	s.step = vetomint.StepPrevote
	s.timeouts.Cancel(vetomint.StepPropose)
}

func (s *State) enterPrecommit() {
	s.step = vetomint.StepPrecommit
	s.timeouts.Cancel(vetomint.StepPrevote)
	s.timeouts.Schedule(vetomint.StepPrecommit, s.round, s.now)
}
