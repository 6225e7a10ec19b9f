package consensus

import (
	"fmt"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/votetally"
)

// Progress delivers one event to the state and returns the responses that the caller must
// execute, in the order they were decided.
//
// Protocol deviations by other validators are reported as ViolationReport responses; stale
// and duplicate events are ignored. Once the height is decided, events are accepted but produce
// no response and do not change the state. An error is only returned if the state breaks one of
// its internal invariants (wrapping vetomint.ErrInvariantViolated), in which case the caller
// must halt the height, or if the event has an unknown type.
func Progress(s *State, event vetomint.ConsensusEvent) ([]vetomint.ConsensusResponse, error) {
	if s.step == vetomint.StepDecided {
		return nil, nil
	}

	var out responses
	if !s.started {
		s.started = true
		s.enterRound(0, s.info.Timestamp, &out)
	}
	if t := event.EventTime(); t > s.now {
		s.now = t
	}

	switch e := event.(type) {
	case vetomint.BlockProposal:
		s.onProposal(e, &out)
	case vetomint.ProposalFavor:
		s.onFavor(e)
	case vetomint.BlockProposalBroadcasted:
		s.onProposalBroadcasted(e)
	case vetomint.Prevote, vetomint.NilPrevote, vetomint.Precommit, vetomint.NilPrecommit:
		s.onVote(event, &out)
	case vetomint.Timer:
		s.onTimer(e.Time, &out)
	default:
		return nil, fmt.Errorf("%w: %T", vetomint.ErrUnknownEvent, event)
	}

	s.evaluate(&out)

	if err := s.checkInvariants(); err != nil {
		s.logger.Errorf("Progress[round=%d]: %v", s.round, err)
		return out, err
	}
	return out, nil
}

type responses []vetomint.ConsensusResponse

func (r *responses) emit(resp vetomint.ConsensusResponse) {
	*r = append(*r, resp)
}

func (s *State) report(out *responses, violator vetomint.ValidatorIndex, format string, args ...any) {
	desc := fmt.Sprintf(format, args...)
	s.logger.Infof("violation by validator %d: %s", violator, desc)
	out.emit(vetomint.ViolationReport{Violator: violator, Description: desc})
}

func (s *State) onProposal(e vetomint.BlockProposal, out *responses) {
	if e.Round < 0 || !s.info.IsValidator(e.Proposer) {
		s.logger.Debugf("OnProposal: ignoring malformed proposal: %v", e)
		return
	}
	if expected := s.leaders.Proposer(e.Round); e.Proposer != expected {
		s.report(out, e.Proposer, "proposal of block %d for round %d, but the proposer is validator %d",
			e.Proposal, e.Round, expected)
		return
	}
	validRound := e.ClaimedValidRound()
	if !validRound.IsNil() && validRound >= e.Round {
		s.report(out, e.Proposer, "proposal of block %d for round %d claims valid round %d", e.Proposal, e.Round, validRound)
		return
	}
	if existing, ok := s.proposals[e.Round]; ok {
		if existing.block != e.Proposal {
			s.report(out, e.Proposer, "conflicting proposals for round %d: block %d and block %d",
				e.Round, existing.block, e.Proposal)
		}
		return
	}
	s.logger.Debugf("OnProposal[round=%d]: block %d from %d (valid round %v)", e.Round, e.Proposal, e.Proposer, validRound)
	s.proposals[e.Round] = proposal{
		block:      e.Proposal,
		proposer:   e.Proposer,
		validRound: validRound,
		time:       e.Time,
	}
}

func (s *State) onFavor(e vetomint.ProposalFavor) {
	if favor, ok := s.favor[e.Proposal]; ok {
		if favor != e.Favor {
			s.logger.Warnf("OnFavor: conflicting favor for block %d ignored (keeping %t)", e.Proposal, favor)
		}
		return
	}
	s.logger.Debugf("OnFavor: block %d: %t", e.Proposal, e.Favor)
	s.favor[e.Proposal] = e.Favor
}

// onProposalBroadcasted records this node's own proposal. The node created the block itself,
// so it is implicitly in favor of it.
func (s *State) onProposalBroadcasted(e vetomint.BlockProposalBroadcasted) {
	me := s.info.ThisNodeIndex
	if e.Round < 0 || s.leaders.Proposer(e.Round) != me {
		s.logger.Debugf("OnProposalBroadcasted: not the proposer of round %d", e.Round)
		return
	}
	if _, ok := s.proposals[e.Round]; ok {
		return
	}
	validRound := vetomint.NilRound
	if s.validValue == vetomint.ForBlock(e.Proposal) && s.validRound < e.Round {
		validRound = s.validRound
	}
	s.proposals[e.Round] = proposal{
		block:      e.Proposal,
		proposer:   me,
		validRound: validRound,
		time:       e.Time,
	}
	if _, ok := s.favor[e.Proposal]; !ok {
		s.favor[e.Proposal] = true
	}
}

func (s *State) onVote(event vetomint.ConsensusEvent, out *responses) {
	kind, signer, round, target, _ := vetomint.VoteOf(event)
	res, existing := s.tally.Add(kind, round, signer, target)
	switch res {
	case votetally.Added:
		s.logger.Debugf("OnVote[round=%d]: %v for %v from %d", round, kind, target, signer)
	case votetally.Equivocation:
		s.report(out, signer, "equivocating %v in round %d: voted for %v, then for %v", kind, round, existing, target)
	case votetally.Rejected:
		s.logger.Debugf("OnVote: ignoring malformed vote: %v", event)
	}
}

func (s *State) onTimer(now vetomint.Timestamp, out *responses) {
	round := s.round
	for _, step := range s.timeouts.Expired(now) {
		if s.round != round || s.step == vetomint.StepDecided {
			return
		}
		switch step {
		case vetomint.StepPropose:
			if s.step == vetomint.StepPropose {
				s.logger.Debugf("OnTimeout[round=%d]: propose", round)
				out.emit(vetomint.BroadcastNilPrevote{Round: round})
				s.enterPrevote()
			}
		case vetomint.StepPrevote:
			if s.step == vetomint.StepPrevote {
				s.logger.Debugf("OnTimeout[round=%d]: prevote", round)
				out.emit(vetomint.BroadcastNilPrecommit{Round: round})
				s.enterPrecommit()
			}
		case vetomint.StepPrecommit:
			s.logger.Debugf("OnTimeout[round=%d]: precommit", round)
			s.enterRound(round+1, now, out)
		}
	}
}
