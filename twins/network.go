package twins

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/logging"
)

// NodeID is an ID that is unique to a node in the network.
// The Validator is the index that the node uses when taking part in the consensus,
// while the NetworkID is used to distinguish nodes on the network. Twins share a Validator.
type NodeID struct {
	Validator vetomint.ValidatorIndex
	NetworkID uint32
}

func (id NodeID) String() string {
	return fmt.Sprintf("v%dn%d", id.Validator, id.NetworkID)
}

// assignNodeIDs creates the nodes of numNodes validators, of which the first numTwins have twins.
// Network ids are assigned in order starting at 1, twins first.
func assignNodeIDs(numNodes, numTwins uint8) (nodes, twins []NodeID) {
	networkID := uint32(1)
	for i := uint8(0); i < numNodes; i++ {
		validator := vetomint.ValidatorIndex(i)
		if i < numTwins {
			twins = append(twins, NodeID{validator, networkID}, NodeID{validator, networkID + 1})
			networkID += 2
			continue
		}
		nodes = append(nodes, NodeID{validator, networkID})
		networkID++
	}
	return nodes, twins
}

type pendingMessage struct {
	message  vetomint.ConsensusEvent
	sender   uint32
	receiver uint32
}

func (pm pendingMessage) String() string {
	if pm.message == nil {
		return fmt.Sprintf("%d→%d", pm.sender, pm.receiver)
	}
	return fmt.Sprintf("%d→%d: %v", pm.sender, pm.receiver, pm.message)
}

// tickMS is the simulated time that passes in one tick. Messages are delivered one tick after
// they are sent.
const tickMS = 10

// Network is a simulated network that supports twins.
//
// Messages of a round are only delivered between nodes in the same partition of that round.
// Messages dropped by a partition are held back until the network heals, after which it is
// fully connected. The network heals once some node has left the last round of the scenario,
// or once every round of the scenario could have timed out in all three steps.
type Network struct {
	nodes     []*node // sorted by network id
	byNetwork map[uint32]*node
	// Maps a validator to its node and its twin.
	validators map[vetomint.ValidatorIndex][]*node
	// For each round, contains the leader and partitions of that round.
	rounds  []Round
	info    vetomint.HeightInfo
	healed  bool
	healAt  vetomint.Timestamp
	now     vetomint.Timestamp
	blocks  vetomint.BlockIdentifier
	pending []pendingMessage
	held    []pendingMessage

	logger logging.Logger
	// the destination of the logger
	log strings.Builder
}

// NewPartitionedNetwork creates a new Network with the leaders and partitions of the scenario.
func NewPartitionedNetwork(rounds []Round, info vetomint.HeightInfo) *Network {
	n := &Network{
		byNetwork:  make(map[uint32]*node),
		validators: make(map[vetomint.ValidatorIndex][]*node),
		rounds:     rounds,
		info:       info,
		now:        info.Timestamp,
	}
	r := uint64(len(rounds))
	n.healAt = info.Timestamp + vetomint.Timestamp(3*info.ConsensusParams.TimeoutMS*r*(r+1)/2)
	n.logger = logging.NewWithDest(&n.log, "network")
	return n
}

// Now returns the simulated time.
func (n *Network) Now() vetomint.Timestamp {
	return n.now
}

func (n *Network) createTwinsNodes(nodes []NodeID) error {
	slices.SortFunc(nodes, func(a, b NodeID) int { return int(a.NetworkID) - int(b.NetworkID) })
	for _, id := range nodes {
		twin := len(n.validators[id.Validator])
		node, err := newNode(n, id, twin)
		if err != nil {
			return fmt.Errorf("failed to create node %v: %w", id, err)
		}
		n.nodes = append(n.nodes, node)
		n.byNetwork[id.NetworkID] = node
		n.validators[id.Validator] = append(n.validators[id.Validator], node)
	}
	return nil
}

// Proposer returns the leader of the round in the scenario,
// or the round-robin proposer for rounds after the scenario.
func (n *Network) Proposer(round vetomint.Round) vetomint.ValidatorIndex {
	if round >= 0 && int(round) < len(n.rounds) {
		return n.rounds[round].Leader
	}
	return vetomint.ValidatorIndex(int(round) % n.info.NumValidators())
}

// run starts every node and runs the network for at most the given number of ticks,
// or until every node has decided. It returns the number of ticks run.
func (n *Network) run(ticks int) (int, error) {
	for tick := 1; tick <= ticks; tick++ {
		n.tick()
		done := true
		for _, node := range n.nodes {
			if err := node.replica.Err(); err != nil {
				return tick, fmt.Errorf("node %v: %w", node.id, err)
			}
			if !node.decided() {
				done = false
			}
		}
		if done {
			return tick, nil
		}
	}
	return ticks, nil
}

// tick advances the time, delivers the pending messages and lets each node process its events.
func (n *Network) tick() {
	n.now += tickMS
	n.logger.Debugf("new tick: %d", n.now)

	if !n.healed && (n.now >= n.healAt || n.maxRound() >= vetomint.Round(len(n.rounds))) {
		n.logger.Debugf("partitions healed, releasing %d messages", len(n.held))
		n.healed = true
		n.pending = append(n.pending, n.held...)
		n.held = nil
	}

	pending := n.pending
	n.pending = nil
	for _, msg := range pending {
		n.byNetwork[msg.receiver].receive(msg.message)
	}

	for _, node := range n.nodes {
		node.replica.Deliver(vetomint.Timer{Time: n.now})
		node.replica.Drain()
	}
}

func (n *Network) maxRound() vetomint.Round {
	highest := vetomint.Round(0)
	for _, node := range n.nodes {
		if r := node.replica.Round(); r > highest {
			highest = r
		}
	}
	return highest
}

// broadcast sends the message from the sender to every other node.
func (n *Network) broadcast(sender NodeID, message vetomint.ConsensusEvent) {
	for _, receiver := range n.nodes {
		if receiver.id == sender {
			continue
		}
		msg := pendingMessage{message: message, sender: sender.NetworkID, receiver: receiver.id.NetworkID}
		if n.shouldDrop(msg.sender, msg.receiver, roundOf(message)) {
			n.logger.Debugf("holding back %v", msg)
			n.held = append(n.held, msg)
			continue
		}
		n.pending = append(n.pending, msg)
	}
}

// newBlock returns a block that has not been proposed before.
func (n *Network) newBlock() vetomint.BlockIdentifier {
	n.blocks++
	return n.blocks
}

// shouldDrop decides if the message of the given round must be dropped, based on the partitions
// configured for that round.
func (n *Network) shouldDrop(sender, receiver uint32, round vetomint.Round) bool {
	if n.healed || round < 0 || int(round) >= len(n.rounds) {
		return false
	}
	for _, partition := range n.rounds[round].Partitions {
		if partition.Contains(sender) && partition.Contains(receiver) {
			return false
		}
	}
	return true
}

func roundOf(message vetomint.ConsensusEvent) vetomint.Round {
	if p, ok := message.(vetomint.BlockProposal); ok {
		return p.Round
	}
	if _, _, round, _, ok := vetomint.VoteOf(message); ok {
		return round
	}
	return vetomint.NilRound
}

// NodeSet is a set of network ids.
type NodeSet map[uint32]struct{}

// NewNodeSet creates a new NodeSet containing the specified ids.
func NewNodeSet(ids ...uint32) NodeSet {
	s := make(NodeSet)
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add adds a NodeID to the set.
func (s NodeSet) Add(v uint32) {
	s[v] = struct{}{}
}

// Contains returns true if the set contains the NodeID, false otherwise.
func (s NodeSet) Contains(v uint32) bool {
	_, ok := s[v]
	return ok
}

// sorted returns the ids of the set in increasing order.
func (s NodeSet) sorted() []uint32 {
	ids := make([]uint32, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// MarshalJSON returns a JSON representation of the node set.
func (s NodeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.sorted())
}

// UnmarshalJSON restores the node set from JSON.
func (s *NodeSet) UnmarshalJSON(data []byte) error {
	if *s == nil {
		*s = make(NodeSet)
	}
	var nodes []uint32
	err := json.Unmarshal(data, &nodes)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		s.Add(node)
	}
	return nil
}
