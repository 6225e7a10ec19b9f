package twins

import (
	"reflect"
	"testing"

	"github.com/relab/vetomint"
)

func createNetwork(t *testing.T, rounds []Round, numNodes uint8) *Network {
	t.Helper()
	network := NewPartitionedNetwork(rounds, Settings{NumNodes: numNodes, TimeoutMS: 100}.heightInfo())
	nodes, _ := assignNodeIDs(numNodes, 0)
	if err := network.createTwinsNodes(nodes); err != nil {
		t.Fatal(err)
	}
	return network
}

func receivers(msgs []pendingMessage) []uint32 {
	var ids []uint32
	for _, m := range msgs {
		ids = append(ids, m.receiver)
	}
	return ids
}

func TestNetworkBroadcast(t *testing.T) {
	rounds := []Round{{Leader: 0, Partitions: []NodeSet{NewNodeSet(1, 2), NewNodeSet(3, 4)}}}

	tests := []struct {
		name     string
		message  vetomint.ConsensusEvent
		wantSent []uint32
		wantHeld []uint32
	}{
		{"partitioned round", vetomint.Prevote{Proposal: 1, Signer: 0, Round: 0}, []uint32{2}, []uint32{3, 4}},
		{"proposal in partitioned round", vetomint.NewBlockProposal(1, 0, 0, 0), []uint32{2}, []uint32{3, 4}},
		{"round after the scenario", vetomint.NilPrecommit{Signer: 0, Round: 1}, []uint32{2, 3, 4}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := createNetwork(t, rounds, 4)
			network.broadcast(network.nodes[0].id, tt.message)
			if got := receivers(network.pending); !reflect.DeepEqual(got, tt.wantSent) {
				t.Errorf("sent to %v; want %v", got, tt.wantSent)
			}
			if got := receivers(network.held); !reflect.DeepEqual(got, tt.wantHeld) {
				t.Errorf("held for %v; want %v", got, tt.wantHeld)
			}
			for _, m := range network.pending {
				if m.sender != 1 || m.message != tt.message {
					t.Errorf("pending message = %v; want %v from 1", m, tt.message)
				}
			}
		})
	}
}

func TestShouldDrop(t *testing.T) {
	rounds := []Round{
		{Leader: 0, Partitions: []NodeSet{NewNodeSet(1, 2, 3)}},
	}
	network := createNetwork(t, rounds, 4)
	tests := []struct {
		sender, receiver uint32
		round            vetomint.Round
		want             bool
	}{
		{1, 2, 0, false},
		{1, 4, 0, true},
		{4, 1, 0, true},
		{4, 1, 1, false},
		{4, 1, vetomint.NilRound, false},
	}
	for _, tt := range tests {
		if got := network.shouldDrop(tt.sender, tt.receiver, tt.round); got != tt.want {
			t.Errorf("shouldDrop(%d, %d, %d) = %t; want %t", tt.sender, tt.receiver, tt.round, got, tt.want)
		}
	}
	network.healed = true
	if network.shouldDrop(1, 4, 0) {
		t.Error("shouldDrop() = true after healing; want false")
	}
}

func TestNetworkProposer(t *testing.T) {
	network := createNetwork(t, []Round{{Leader: 3}, {Leader: 3}}, 4)
	for round, want := range []vetomint.ValidatorIndex{3, 3, 2, 3, 0} {
		if got := network.Proposer(vetomint.Round(round)); got != want {
			t.Errorf("Proposer(%d) = %d; want %d", round, got, want)
		}
	}
}

func TestNetworkHeals(t *testing.T) {
	// validator 3 is isolated in round 0 and misses the decision of the others,
	// until the partition heals
	rounds := []Round{{Leader: 0, Partitions: []NodeSet{NewNodeSet(1, 2, 3), NewNodeSet(4)}}}
	network := createNetwork(t, rounds, 4)
	ticks, err := network.run(DefaultTicks)
	if err != nil {
		t.Fatal(err)
	}
	for _, node := range network.nodes[:3] {
		if block, round, ok := node.replica.Decision(); !ok || block != 1 || round != 0 {
			t.Errorf("node %v: Decision() = %d, %d, %t; want 1, 0, true", node.id, block, round, ok)
		}
	}
	isolated := network.nodes[3]
	if block, _, ok := isolated.replica.Decision(); !ok || block != 1 {
		t.Errorf("isolated node: Decision() = %d, %t; want 1, true", block, ok)
	}
	if !network.healed {
		t.Error("network did not heal")
	}
	if ticks == DefaultTicks {
		t.Error("network ran out of ticks")
	}
}

func TestNodeSetJSON(t *testing.T) {
	s := NewNodeSet(3, 1, 2)
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[1,2,3]" {
		t.Errorf("MarshalJSON() = %s; want [1,2,3]", data)
	}
	var got NodeSet
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("UnmarshalJSON() = %v; want %v", got, s)
	}
}
