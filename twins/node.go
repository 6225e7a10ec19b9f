package twins

import (
	"strings"
	"time"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/consensus"
	"github.com/relab/vetomint/logging"
	"github.com/relab/vetomint/replica"
)

// node is a replica on the simulated network. It implements replica.Host.
type node struct {
	id      NodeID
	twin    int // 0 for the first node of a validator, 1 for its twin
	network *Network
	replica *replica.Replica
	logger  logging.Logger

	decision   vetomint.Target
	violations []vetomint.ViolationReport
	log        strings.Builder
}

var _ replica.Host = (*node)(nil)

func newNode(n *Network, id NodeID, twin int) (*node, error) {
	node := &node{
		id:      id,
		twin:    twin,
		network: n,
	}
	node.logger = logging.NewWithDest(&node.log, id.String())
	info := n.info
	info.ThisNodeIndex = id.Validator
	r, err := replica.New(info, node,
		replica.WithLogger(node.logger),
		replica.WithClock(func() time.Time { return time.UnixMilli(int64(n.now)) }),
		replica.WithConsensusOptions(consensus.WithLeaderRotation(n)),
	)
	if err != nil {
		return nil, err
	}
	node.replica = r
	return node, nil
}

// isTwin reports whether the node's validator is run by more than one node.
func (n *node) isTwin() bool {
	return len(n.network.validators[n.id.Validator]) > 1
}

func (n *node) decided() bool {
	return !n.decision.IsNil()
}

// receive delivers a message from the network. Proposals are followed by the node's verdict
// on the proposed block.
func (n *node) receive(message vetomint.ConsensusEvent) {
	n.replica.Deliver(message)
	if p, ok := message.(vetomint.BlockProposal); ok {
		n.replica.Deliver(vetomint.ProposalFavor{
			Proposal: p.Proposal,
			Favor:    n.favor(p.Round),
			Time:     n.network.now,
		})
	}
}

// favor returns the verdict of the node on the proposal of the given round.
// Correct nodes favor every block; twins follow the policy of the round.
func (n *node) favor(round vetomint.Round) bool {
	if !n.isTwin() || round < 0 || int(round) >= len(n.network.rounds) {
		return true
	}
	switch n.network.rounds[round].TwinFavor {
	case FavorAgainst:
		return false
	case FavorSplit:
		return n.twin == 0
	default:
		return true
	}
}

// Propose re-proposes the valid value, or a new block if there is none.
func (n *node) Propose(round vetomint.Round, valid vetomint.Target, validRound vetomint.Round) (vetomint.BlockIdentifier, error) {
	block, ok := valid.Block()
	if !ok {
		block = n.network.newBlock()
		validRound = vetomint.NilRound
	}
	n.logger.Debugf("proposing block %d in round %d", block, round)
	n.network.broadcast(n.id, vetomint.NewReproposal(block, n.id.Validator, round, validRound, n.network.now))
	return block, nil
}

// Broadcast sends the vote to the other nodes.
func (n *node) Broadcast(vote vetomint.ConsensusEvent) error {
	n.network.broadcast(n.id, vote)
	return nil
}

// Finalize records the decision.
func (n *node) Finalize(block vetomint.BlockIdentifier) error {
	n.decision = vetomint.ForBlock(block)
	return nil
}

// Report records the violation.
func (n *node) Report(report vetomint.ViolationReport) {
	n.violations = append(n.violations, report)
}
