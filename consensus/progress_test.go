package consensus

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/relab/vetomint"
)

func newTestState(t *testing.T, powers []uint64, me vetomint.ValidatorIndex) *State {
	t.Helper()
	info := vetomint.NewHeightInfo(powers, me, 0, vetomint.ConsensusParams{TimeoutMS: 1000})
	s, err := New(info)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

var equalPowers = []uint64{1, 1, 1, 1}

// expect delivers the event and checks that exactly the wanted responses are returned.
func expect(t *testing.T, s *State, event vetomint.ConsensusEvent, want ...vetomint.ConsensusResponse) []vetomint.ConsensusResponse {
	t.Helper()
	got, err := Progress(s, event)
	if err != nil {
		t.Fatalf("Progress(%v) failed: %v", event, err)
	}
	if len(got) == 0 && len(want) == 0 {
		return got
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Progress(%v) = %v; want %v", event, got, want)
	}
	return got
}

// expectViolation delivers the event and checks that it is reported as a violation by the validator.
func expectViolation(t *testing.T, s *State, event vetomint.ConsensusEvent, violator vetomint.ValidatorIndex) {
	t.Helper()
	got, err := Progress(s, event)
	if err != nil {
		t.Fatalf("Progress(%v) failed: %v", event, err)
	}
	if len(got) != 1 {
		t.Fatalf("Progress(%v) = %v; want one violation report", event, got)
	}
	report, ok := got[0].(vetomint.ViolationReport)
	if !ok {
		t.Fatalf("Progress(%v) = %v; want a violation report", event, got)
	}
	if report.Violator != violator {
		t.Errorf("report.Violator = %d; want %d", report.Violator, violator)
	}
	if report.Description == "" {
		t.Error("report.Description is empty")
	}
}

func checkRoundStep(t *testing.T, s *State, round vetomint.Round, step vetomint.Step) {
	t.Helper()
	if s.Round() != round || s.Step() != step {
		t.Errorf("round, step = %d, %v; want %d, %v", s.Round(), s.Step(), round, step)
	}
}

// lockOn drives the state through round 0 until it locks on the block proposed by validator 0.
func lockOn(t *testing.T, s *State, block vetomint.BlockIdentifier) {
	t.Helper()
	expect(t, s, vetomint.NewBlockProposal(block, 0, 0, 1))
	expect(t, s, vetomint.ProposalFavor{Proposal: block, Favor: true, Time: 2},
		vetomint.BroadcastPrevote{Proposal: block, Round: 0})
	expect(t, s, vetomint.Prevote{Proposal: block, Signer: 0, Round: 0, Time: 3})
	expect(t, s, vetomint.Prevote{Proposal: block, Signer: 1, Round: 0, Time: 3})
	expect(t, s, vetomint.Prevote{Proposal: block, Signer: 2, Round: 0, Time: 4},
		vetomint.BroadcastPrecommit{Proposal: block, Round: 0})
	if locked, round := s.Locked(); locked != vetomint.ForBlock(block) || round != 0 {
		t.Fatalf("Locked() = %v, %v; want %d, 0", locked, round, block)
	}
}

func TestDecideInFirstRound(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	lockOn(t, s, 7)
	checkRoundStep(t, s, 0, vetomint.StepPrecommit)
	if valid, round := s.Valid(); valid != vetomint.ForBlock(7) || round != 0 {
		t.Errorf("Valid() = %v, %v; want 7, 0", valid, round)
	}

	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 0, Round: 0, Time: 5})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 1, Round: 0, Time: 5})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 2, Round: 0, Time: 6},
		vetomint.FinalizeBlock{Proposal: 7})

	checkRoundStep(t, s, 0, vetomint.StepDecided)
	if block, ok := s.Decision(); !ok || block != 7 {
		t.Errorf("Decision() = %d, %t; want 7, true", block, ok)
	}
}

func TestNilRound(t *testing.T) {
	s := newTestState(t, equalPowers, 3)

	expect(t, s, vetomint.Timer{Time: 1000}, vetomint.BroadcastNilPrevote{Round: 0})
	checkRoundStep(t, s, 0, vetomint.StepPrevote)

	expect(t, s, vetomint.NilPrevote{Signer: 0, Round: 0, Time: 1001})
	expect(t, s, vetomint.NilPrevote{Signer: 1, Round: 0, Time: 1001})
	expect(t, s, vetomint.NilPrevote{Signer: 2, Round: 0, Time: 1002}, vetomint.BroadcastNilPrecommit{Round: 0})
	checkRoundStep(t, s, 0, vetomint.StepPrecommit)

	expect(t, s, vetomint.NilPrecommit{Signer: 0, Round: 0, Time: 1003})
	expect(t, s, vetomint.NilPrecommit{Signer: 1, Round: 0, Time: 1003})
	expect(t, s, vetomint.NilPrecommit{Signer: 2, Round: 0, Time: 1004})
	checkRoundStep(t, s, 1, vetomint.StepPropose)

	if at, ok := s.Deadline(vetomint.StepPropose); !ok || at != 1004+2000 {
		t.Errorf("Deadline(Propose) = %d, %t; want %d, true", at, ok, 1004+2000)
	}
	if _, ok := s.Deadline(vetomint.StepPrecommit); ok {
		t.Error("precommit deadline of round 0 still pending in round 1")
	}
}

func TestNewRoundAsksProposer(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.Timer{Time: 1000}, vetomint.BroadcastNilPrevote{Round: 0})
	expect(t, s, vetomint.NilPrecommit{Signer: 0, Round: 0, Time: 1001})
	expect(t, s, vetomint.NilPrecommit{Signer: 2, Round: 0, Time: 1001})
	// The nil precommit quorum ends round 0 even before the node has precommitted itself.
	expect(t, s, vetomint.NilPrecommit{Signer: 3, Round: 0, Time: 1001},
		vetomint.CreateAndBroadcastProposal{Round: 1, ValidRound: vetomint.NilRound})
	checkRoundStep(t, s, 1, vetomint.StepPropose)
}

func TestProposerOfRoundZero(t *testing.T) {
	s := newTestState(t, equalPowers, 0)

	expect(t, s, vetomint.Timer{Time: 1}, vetomint.CreateAndBroadcastProposal{Round: 0, ValidRound: vetomint.NilRound})
	expect(t, s, vetomint.BlockProposalBroadcasted{Proposal: 4, Round: 0, Time: 2},
		vetomint.BroadcastPrevote{Proposal: 4, Round: 0})
	if block, ok := s.Proposal(0); !ok || block != 4 {
		t.Errorf("Proposal(0) = %d, %t; want 4, true", block, ok)
	}
	if favor, ok := s.Favor(4); !ok || !favor {
		t.Errorf("Favor(4) = %t, %t; want true, true", favor, ok)
	}
}

func TestEquivocation(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 2, Round: 0, Time: 1})
	expectViolation(t, s, vetomint.Prevote{Proposal: 9, Signer: 2, Round: 0, Time: 2}, 2)

	if target, ok := s.Vote(vetomint.KindPrevote, 0, 2); !ok || target != vetomint.ForBlock(7) {
		t.Errorf("Vote(prevote, 0, 2) = %v, %t; want 7, true", target, ok)
	}
	if votes := s.Votes(vetomint.KindPrevote, 0); len(votes) != 1 {
		t.Errorf("len(Votes(prevote, 0)) = %d; want 1", len(votes))
	}

	// A nil vote conflicts with a vote for a block.
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 3, Round: 0, Time: 3})
	expectViolation(t, s, vetomint.NilPrecommit{Signer: 3, Round: 0, Time: 3}, 3)

	// Duplicates are ignored.
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 2, Round: 0, Time: 4})
}

func TestEquivocationIsNotCounted(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.NewBlockProposal(7, 0, 0, 1))
	expect(t, s, vetomint.ProposalFavor{Proposal: 7, Favor: true, Time: 2}, vetomint.BroadcastPrevote{Proposal: 7, Round: 0})
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 1, Round: 0, Time: 3})
	expect(t, s, vetomint.Prevote{Proposal: 9, Signer: 2, Round: 0, Time: 3})
	expectViolation(t, s, vetomint.Prevote{Proposal: 7, Signer: 2, Round: 0, Time: 3}, 2)
	expect(t, s, vetomint.Prevote{Proposal: 9, Signer: 3, Round: 0, Time: 3})

	// 7 has the votes of 0 and 1, 9 has the votes of 2 and 3.
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 0, Round: 0, Time: 4})
	checkRoundStep(t, s, 0, vetomint.StepPrevote)
}

func TestRoundSkip(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.NewBlockProposal(7, 0, 0, 1))
	expect(t, s, vetomint.Prevote{Proposal: 3, Signer: 0, Round: 5, Time: 2})
	checkRoundStep(t, s, 0, vetomint.StepPropose)

	// A validator voting twice in a round is counted once.
	expect(t, s, vetomint.NilPrecommit{Signer: 0, Round: 5, Time: 3})
	checkRoundStep(t, s, 0, vetomint.StepPropose)

	expect(t, s, vetomint.NilPrecommit{Signer: 2, Round: 5, Time: 4},
		vetomint.CreateAndBroadcastProposal{Round: 5, ValidRound: vetomint.NilRound})
	checkRoundStep(t, s, 5, vetomint.StepPropose)

	// Votes for earlier rounds never move the node back.
	expect(t, s, vetomint.NilPrevote{Signer: 3, Round: 2, Time: 5})
	expect(t, s, vetomint.NilPrevote{Signer: 0, Round: 2, Time: 5})
	checkRoundStep(t, s, 5, vetomint.StepPropose)
}

func TestRoundSkipByPower(t *testing.T) {
	s := newTestState(t, []uint64{5, 1, 1, 1}, 1)

	expect(t, s, vetomint.NilPrevote{Signer: 1, Round: 2, Time: 1})
	checkRoundStep(t, s, 0, vetomint.StepPropose)
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 0, Round: 3, Time: 1})
	checkRoundStep(t, s, 3, vetomint.StepPropose)
}

func TestWrongProposer(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expectViolation(t, s, vetomint.NewBlockProposal(7, 2, 0, 1), 2)
	if _, ok := s.Proposal(0); ok {
		t.Error("proposal from the wrong proposer was recorded")
	}
	expect(t, s, vetomint.ProposalFavor{Proposal: 7, Favor: true, Time: 2})
	checkRoundStep(t, s, 0, vetomint.StepPropose)
}

func TestConflictingProposals(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.NewBlockProposal(7, 0, 0, 1))
	expect(t, s, vetomint.NewBlockProposal(7, 0, 0, 1))
	expectViolation(t, s, vetomint.NewBlockProposal(8, 0, 0, 2), 0)
	if block, ok := s.Proposal(0); !ok || block != 7 {
		t.Errorf("Proposal(0) = %d, %t; want 7, true", block, ok)
	}

	// A fresh proposal cannot claim a valid round that is not before its own round.
	expectViolation(t, s, vetomint.NewReproposal(9, 1, 1, 1, 3), 1)
}

func TestFavorAgainst(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.ProposalFavor{Proposal: 7, Favor: false, Time: 1})
	expect(t, s, vetomint.NewBlockProposal(7, 0, 0, 2), vetomint.BroadcastNilPrevote{Round: 0})

	// The first verdict stands.
	expect(t, s, vetomint.ProposalFavor{Proposal: 7, Favor: true, Time: 3})
	if favor, _ := s.Favor(7); favor {
		t.Error("Favor(7) = true; want false")
	}

	// A quorum for a block the node does not favor is not enough to lock on it.
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 0, Round: 0, Time: 4})
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 2, Round: 0, Time: 4})
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 3, Round: 0, Time: 4}, vetomint.BroadcastNilPrecommit{Round: 0})
	if locked, round := s.Locked(); !locked.IsNil() || !round.IsNil() {
		t.Errorf("Locked() = %v, %v; want nil, nil", locked, round)
	}
	if valid, round := s.Valid(); valid != vetomint.ForBlock(7) || round != 0 {
		t.Errorf("Valid() = %v, %v; want 7, 0", valid, round)
	}
}

func TestTimeouts(t *testing.T) {
	s := newTestState(t, equalPowers, 3)

	expect(t, s, vetomint.Timer{Time: 500})
	expect(t, s, vetomint.Timer{Time: 999})
	expect(t, s, vetomint.Timer{Time: 1000}, vetomint.BroadcastNilPrevote{Round: 0})
	expect(t, s, vetomint.Timer{Time: 1000})

	// The prevote timeout starts once more than a third of the power has prevoted.
	expect(t, s, vetomint.NilPrevote{Signer: 0, Round: 0, Time: 1000})
	if _, ok := s.Deadline(vetomint.StepPrevote); ok {
		t.Error("prevote timeout scheduled before the fault threshold")
	}
	expect(t, s, vetomint.Prevote{Proposal: 2, Signer: 1, Round: 0, Time: 1100})
	if at, ok := s.Deadline(vetomint.StepPrevote); !ok || at != 2100 {
		t.Errorf("Deadline(Prevote) = %d, %t; want 2100, true", at, ok)
	}

	// Stale timers do nothing.
	expect(t, s, vetomint.Timer{Time: 10})
	expect(t, s, vetomint.Timer{Time: 2100}, vetomint.BroadcastNilPrecommit{Round: 0})
	checkRoundStep(t, s, 0, vetomint.StepPrecommit)

	expect(t, s, vetomint.Timer{Time: 3099})
	expect(t, s, vetomint.Timer{Time: 3100})
	checkRoundStep(t, s, 1, vetomint.StepPropose)

	// Timeouts grow with the round.
	if at, ok := s.Deadline(vetomint.StepPropose); !ok || at != 3100+2000 {
		t.Errorf("Deadline(Propose) = %d, %t; want %d, true", at, ok, 3100+2000)
	}
}

func TestPrecommitTimeoutInPropose(t *testing.T) {
	s := newTestState(t, equalPowers, 3)

	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 0, Round: 0, Time: 10})
	expect(t, s, vetomint.NilPrecommit{Signer: 1, Round: 0, Time: 20})
	if at, ok := s.Deadline(vetomint.StepPrecommit); !ok || at != 1020 {
		t.Errorf("Deadline(Precommit) = %d, %t; want 1020, true", at, ok)
	}
	// The propose timeout fires first, then the precommit timeout ends the round.
	expect(t, s, vetomint.Timer{Time: 1020}, vetomint.BroadcastNilPrevote{Round: 0})
	checkRoundStep(t, s, 1, vetomint.StepPropose)
}

func TestDecidedIsFinal(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	lockOn(t, s, 7)
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 3, Round: 0, Time: 5})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 0, Round: 0, Time: 5})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 2, Round: 0, Time: 5}, vetomint.FinalizeBlock{Proposal: 7})

	before := s.String()
	events := []vetomint.ConsensusEvent{
		vetomint.Precommit{Proposal: 7, Signer: 1, Round: 0, Time: 6},
		vetomint.Precommit{Proposal: 9, Signer: 0, Round: 0, Time: 6},
		vetomint.NilPrecommit{Signer: 0, Round: 3, Time: 6},
		vetomint.NilPrecommit{Signer: 2, Round: 3, Time: 6},
		vetomint.NilPrecommit{Signer: 3, Round: 3, Time: 6},
		vetomint.NewBlockProposal(9, 2, 0, 7),
		vetomint.Timer{Time: 1 << 40},
	}
	for _, e := range events {
		expect(t, s, e)
	}
	if after := s.String(); after != before {
		t.Errorf("state changed after decision: %s; want %s", after, before)
	}
	if target, ok := s.Vote(vetomint.KindPrecommit, 0, 1); ok {
		t.Errorf("vote %v recorded after decision", target)
	}
}

func TestLockCarryOver(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	lockOn(t, s, 7)
	expect(t, s, vetomint.NilPrecommit{Signer: 0, Round: 0, Time: 5})
	expect(t, s, vetomint.NilPrecommit{Signer: 2, Round: 0, Time: 5})
	expect(t, s, vetomint.NilPrecommit{Signer: 3, Round: 0, Time: 5}, vetomint.CreateAndBroadcastProposal{
		Round:      1,
		ValidValue: vetomint.ForBlock(7),
		ValidRound: 0,
	})
	expect(t, s, vetomint.BlockProposalBroadcasted{Proposal: 7, Round: 1, Time: 6},
		vetomint.BroadcastPrevote{Proposal: 7, Round: 1})

	if locked, round := s.Locked(); locked != vetomint.ForBlock(7) || round != 0 {
		t.Errorf("Locked() = %v, %v; want 7, 0", locked, round)
	}
}

func TestLockedNodeRejectsOtherBlock(t *testing.T) {
	s := newTestState(t, equalPowers, 3)

	lockOn(t, s, 7)
	expect(t, s, vetomint.NilPrecommit{Signer: 0, Round: 0, Time: 5})
	expect(t, s, vetomint.NilPrecommit{Signer: 1, Round: 0, Time: 5})
	expect(t, s, vetomint.NilPrecommit{Signer: 2, Round: 0, Time: 5})
	checkRoundStep(t, s, 1, vetomint.StepPropose)

	expect(t, s, vetomint.NewBlockProposal(9, 1, 1, 6))
	expect(t, s, vetomint.ProposalFavor{Proposal: 9, Favor: true, Time: 7}, vetomint.BroadcastNilPrevote{Round: 1})
}

func TestLockOverride(t *testing.T) {
	tests := []struct {
		name   string
		round1 []vetomint.ConsensusEvent
		want   vetomint.ConsensusResponse
	}{
		{
			name: "quorum at valid round",
			round1: []vetomint.ConsensusEvent{
				vetomint.Prevote{Proposal: 9, Signer: 0, Round: 1, Time: 10},
				vetomint.Prevote{Proposal: 9, Signer: 1, Round: 1, Time: 10},
				vetomint.Prevote{Proposal: 9, Signer: 2, Round: 1, Time: 10},
			},
			want: vetomint.BroadcastPrevote{Proposal: 9, Round: 2},
		},
		{
			name: "no quorum at valid round",
			round1: []vetomint.ConsensusEvent{
				vetomint.NilPrevote{Signer: 0, Round: 1, Time: 10},
				vetomint.NilPrevote{Signer: 1, Round: 1, Time: 10},
				vetomint.NilPrevote{Signer: 2, Round: 1, Time: 10},
			},
			want: vetomint.BroadcastNilPrevote{Round: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, equalPowers, 3)
			lockOn(t, s, 7)
			for i := vetomint.ValidatorIndex(0); i < 3; i++ {
				expect(t, s, vetomint.NilPrecommit{Signer: i, Round: 0, Time: 5})
			}
			checkRoundStep(t, s, 1, vetomint.StepPropose)

			for _, e := range tt.round1 {
				expect(t, s, e)
			}
			expect(t, s, vetomint.Timer{Time: 100_000},
				vetomint.BroadcastNilPrevote{Round: 1},
				vetomint.BroadcastNilPrecommit{Round: 1},
			)
			for i := vetomint.ValidatorIndex(0); i < 3; i++ {
				expect(t, s, vetomint.NilPrecommit{Signer: i, Round: 1, Time: 100_001})
			}
			checkRoundStep(t, s, 2, vetomint.StepPropose)

			expect(t, s, vetomint.NewReproposal(9, 2, 2, 1, 100_002))
			expect(t, s, vetomint.ProposalFavor{Proposal: 9, Favor: true, Time: 100_003}, tt.want)

			if locked, round := s.Locked(); locked != vetomint.ForBlock(7) || round != 0 {
				t.Errorf("Locked() = %v, %v; want 7, 0", locked, round)
			}
		})
	}
}

func TestAgreementUnderEquivocation(t *testing.T) {
	// Validator 0 is Byzantine and shows a different prevote to each of the others.
	states := []*State{
		newTestState(t, equalPowers, 1),
		newTestState(t, equalPowers, 2),
		newTestState(t, equalPowers, 3),
	}
	decided := make(map[vetomint.BlockIdentifier]int)
	for i, s := range states {
		byzantine := vetomint.BlockIdentifier(100 + i)
		events := []vetomint.ConsensusEvent{
			vetomint.NewBlockProposal(7, 0, 0, 1),
			vetomint.ProposalFavor{Proposal: 7, Favor: true, Time: 1},
			vetomint.Prevote{Proposal: byzantine, Signer: 0, Round: 0, Time: 2},
			vetomint.Prevote{Proposal: 7, Signer: 1, Round: 0, Time: 2},
			vetomint.Prevote{Proposal: 7, Signer: 2, Round: 0, Time: 2},
			vetomint.Prevote{Proposal: 7, Signer: 3, Round: 0, Time: 2},
			vetomint.Precommit{Proposal: byzantine, Signer: 0, Round: 0, Time: 3},
			vetomint.Precommit{Proposal: 7, Signer: 1, Round: 0, Time: 3},
			vetomint.Precommit{Proposal: 7, Signer: 2, Round: 0, Time: 3},
			vetomint.Precommit{Proposal: 7, Signer: 3, Round: 0, Time: 3},
		}
		for _, e := range events {
			if _, err := Progress(s, e); err != nil {
				t.Fatalf("Progress(%v) failed: %v", e, err)
			}
		}
		block, ok := s.Decision()
		if !ok {
			t.Fatalf("node %d did not decide: %v", s.HeightInfo().ThisNodeIndex, s)
		}
		decided[block]++
	}
	if len(decided) != 1 || decided[7] != len(states) {
		t.Errorf("decisions = %v; want all nodes to decide 7", decided)
	}
}

type unknownEvent struct {
	vetomint.Timer
}

func TestUnknownEvent(t *testing.T) {
	s := newTestState(t, equalPowers, 1)
	_, err := Progress(s, unknownEvent{})
	if !errors.Is(err, vetomint.ErrUnknownEvent) {
		t.Errorf("Progress(unknownEvent) = %v; want %v", err, vetomint.ErrUnknownEvent)
	}
}

func TestNewRejectsInvalidHeightInfo(t *testing.T) {
	info := vetomint.NewHeightInfo(nil, 0, 0, vetomint.ConsensusParams{TimeoutMS: 1000})
	if _, err := New(info); !errors.Is(err, vetomint.ErrNoValidators) {
		t.Errorf("New() = %v; want %v", err, vetomint.ErrNoValidators)
	}
}

func randomEvent(rng *rand.Rand, now *vetomint.Timestamp) vetomint.ConsensusEvent {
	signer := vetomint.ValidatorIndex(rng.Intn(4))
	round := vetomint.Round(rng.Intn(4))
	block := vetomint.BlockIdentifier(1 + rng.Intn(2))
	*now += vetomint.Timestamp(rng.Intn(300))
	switch rng.Intn(8) {
	case 0:
		return vetomint.NewBlockProposal(block, vetomint.ValidatorIndex(int(round)%4), round, *now)
	case 1:
		return vetomint.ProposalFavor{Proposal: block, Favor: rng.Intn(4) != 0, Time: *now}
	case 2:
		return vetomint.Prevote{Proposal: block, Signer: signer, Round: round, Time: *now}
	case 3:
		return vetomint.NilPrevote{Signer: signer, Round: round, Time: *now}
	case 4:
		return vetomint.Precommit{Proposal: block, Signer: signer, Round: round, Time: *now}
	case 5:
		return vetomint.NilPrecommit{Signer: signer, Round: round, Time: *now}
	case 6:
		return vetomint.BlockProposalBroadcasted{Proposal: block, Round: round, Time: *now}
	default:
		return vetomint.Timer{Time: *now}
	}
}

func TestMonotonicity(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := newTestState(t, equalPowers, vetomint.ValidatorIndex(seed%4))
		var now vetomint.Timestamp
		for i := 0; i < 400; i++ {
			round, step := s.Round(), s.Step()
			e := randomEvent(rng, &now)
			if _, err := Progress(s, e); err != nil {
				t.Fatalf("seed %d: Progress(%v) failed: %v", seed, e, err)
			}
			if s.Round() < round || (s.Round() == round && s.Step() < step) {
				t.Fatalf("seed %d: Progress(%v) moved from %d/%v back to %d/%v", seed, e, round, step, s.Round(), s.Step())
			}
		}
		for _, kind := range []vetomint.VoteKind{vetomint.KindPrevote, vetomint.KindPrecommit} {
			for r := vetomint.Round(0); r < 4; r++ {
				seen := make(map[vetomint.ValidatorIndex]bool)
				for _, v := range s.Votes(kind, r) {
					if seen[v.Signer] {
						t.Errorf("seed %d: validator %d has two %v votes in round %d", seed, v.Signer, kind, r)
					}
					seen[v.Signer] = true
				}
			}
		}
	}
}

// A proposal built as a plain literal has no valid round and is accepted as a fresh proposal.
func TestProposalLiteralIsFresh(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	p := vetomint.BlockProposal{Proposal: 7, Proposer: 0, Round: 0, Time: 1}
	if vr := p.ClaimedValidRound(); !vr.IsNil() {
		t.Fatalf("ClaimedValidRound() = %v; want nil", vr)
	}
	expect(t, s, p)
	if block, ok := s.Proposal(0); !ok || block != 7 {
		t.Errorf("Proposal(0) = %d, %t; want 7, true", block, ok)
	}
	expect(t, s, vetomint.ProposalFavor{Proposal: 7, Favor: true, Time: 2},
		vetomint.BroadcastPrevote{Proposal: 7, Round: 0})
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 0, Round: 0, Time: 3})
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 1, Round: 0, Time: 3})
	expect(t, s, vetomint.Prevote{Proposal: 7, Signer: 2, Round: 0, Time: 4},
		vetomint.BroadcastPrecommit{Proposal: 7, Round: 0})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 0, Round: 0, Time: 5})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 1, Round: 0, Time: 5})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 2, Round: 0, Time: 6},
		vetomint.FinalizeBlock{Proposal: 7})
}

func TestReproposal(t *testing.T) {
	if vr := vetomint.NewReproposal(7, 1, 2, vetomint.NilRound, 0).ClaimedValidRound(); !vr.IsNil() {
		t.Errorf("NewReproposal(nil).ClaimedValidRound() = %v; want nil", vr)
	}
	if vr := vetomint.NewReproposal(7, 1, 2, 1, 0).ClaimedValidRound(); vr != 1 {
		t.Errorf("NewReproposal(1).ClaimedValidRound() = %v; want 1", vr)
	}
}

// A precommit quorum decides the block even if the proposal was never received.
func TestDecideWithoutProposal(t *testing.T) {
	s := newTestState(t, equalPowers, 1)

	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 0, Round: 0, Time: 1})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 2, Round: 0, Time: 1})
	expect(t, s, vetomint.Precommit{Proposal: 7, Signer: 3, Round: 0, Time: 2},
		vetomint.FinalizeBlock{Proposal: 7})
	if _, ok := s.Proposal(0); ok {
		t.Error("Proposal(0) found; want none")
	}
	checkRoundStep(t, s, 0, vetomint.StepDecided)
}

func TestInvariantViolation(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, s *State)
	}{
		{"locked value without locked round", func(t *testing.T, s *State) {
			lockOn(t, s, 7)
			s.lockedRound = vetomint.NilRound
		}},
		{"valid round without valid value", func(t *testing.T, s *State) {
			lockOn(t, s, 7)
			s.validValue = vetomint.Nil
		}},
		{"locked round after valid round", func(t *testing.T, s *State) {
			lockOn(t, s, 7)
			for _, signer := range []vetomint.ValidatorIndex{0, 2, 3} {
				Progress(s, vetomint.NilPrecommit{Signer: signer, Round: 0, Time: 5})
			}
			checkRoundStep(t, s, 1, vetomint.StepPropose)
			s.lockedRound = 1
		}},
		{"lock from a future round", func(t *testing.T, s *State) {
			lockOn(t, s, 7)
			s.lockedRound = 3
			s.validRound = 3
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, equalPowers, 1)
			tt.corrupt(t, s)
			_, err := Progress(s, vetomint.Timer{Time: 10})
			if !errors.Is(err, vetomint.ErrInvariantViolated) {
				t.Errorf("Progress() = %v; want %v", err, vetomint.ErrInvariantViolated)
			}
		})
	}
}
