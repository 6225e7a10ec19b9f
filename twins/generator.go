package twins

import (
	"fmt"
	"io"
	"math"
	"math/bits"
	"math/rand"

	wr "github.com/mroth/weightedrand"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/logging"
)

type leaderPartitions struct {
	leader     vetomint.ValidatorIndex
	partitions []NodeSet
}

// Generator generates twins scenarios.
// It enumerates the cartesian product of leaders and partitions over the rounds of the scenario,
// starting at random offsets after Shuffle. The behavior of the twins in each round is chosen at
// random with weights that favor honest-looking twins.
type Generator struct {
	logger            logging.Logger
	settings          Settings
	indices           []int
	offsets           []int
	leadersPartitions []leaderPartitions
	favor             *wr.Chooser
	rnd               *rand.Rand
	remaining         int64
}

// favorWeights are the weights of the twins' favor policies.
var favorWeights = map[FavorPolicy]uint{
	FavorHonest:  2,
	FavorAgainst: 1,
	FavorSplit:   1,
}

// NewGenerator creates a new generator.
func NewGenerator(logger logging.Logger, settings Settings) (*Generator, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	if settings.Partitions == 0 || settings.Rounds == 0 {
		return nil, fmt.Errorf("twins: need at least one partition and one round")
	}
	g := &Generator{
		logger:   logger,
		settings: settings,
		indices:  make([]int, settings.Rounds),
		offsets:  make([]int, settings.Rounds),
		rnd:      rand.New(rand.NewSource(settings.Seed)),
	}

	nodes, twins := assignNodeIDs(settings.NumNodes, settings.NumTwins)
	partitionSets := genPartitions(twins, nodes, settings.Partitions, 1)

	for _, p := range partitionSets {
		for id := uint8(0); id < settings.NumNodes; id++ {
			g.leadersPartitions = append(g.leadersPartitions, leaderPartitions{
				leader:     vetomint.ValidatorIndex(id),
				partitions: p,
			})
		}
	}

	choices := make([]wr.Choice, 0, len(favorWeights))
	for _, policy := range []FavorPolicy{FavorHonest, FavorAgainst, FavorSplit} {
		choices = append(choices, wr.NewChoice(policy, favorWeights[policy]))
	}
	var err error
	g.favor, err = wr.NewChooser(choices...)
	if err != nil {
		return nil, err
	}

	g.remaining = power(len(g.leadersPartitions), int(settings.Rounds))
	logger.Infof("Generating %d scenarios from %d leader/partition combinations", g.remaining, len(g.leadersPartitions))

	if settings.Shuffle {
		g.Shuffle(settings.Seed)
	}
	return g, nil
}

// power returns base^exp, saturating at math.MaxInt64.
func power(base, exp int) int64 {
	result := uint64(1)
	for i := 0; i < exp; i++ {
		hi, lo := bits.Mul64(result, uint64(base))
		if hi != 0 || lo > math.MaxInt64 {
			return math.MaxInt64
		}
		result = lo
	}
	return int64(result)
}

// Settings returns the settings of the generator.
func (g *Generator) Settings() Settings {
	return g.settings
}

// Remaining returns the number of scenarios that have not been generated yet.
func (g *Generator) Remaining() int64 {
	return g.remaining
}

// Shuffle shuffles the list of leaders and partitions.
func (g *Generator) Shuffle(seed int64) {
	g.rnd = rand.New(rand.NewSource(seed))
	g.rnd.Shuffle(len(g.leadersPartitions), func(i, j int) {
		g.leadersPartitions[i], g.leadersPartitions[j] = g.leadersPartitions[j], g.leadersPartitions[i]
	})
	for i := range g.offsets {
		g.offsets[i] = g.rnd.Intn(len(g.leadersPartitions))
	}
}

// NextScenario generates the next scenario, or returns io.EOF when all have been generated.
func (g *Generator) NextScenario() (s Scenario, err error) {
	if g.remaining <= 0 || len(g.indices) == 0 {
		return nil, io.EOF
	}
	// This is basically computing the cartesian product of leadersPartitions with itself "round" times.
	p := make([]leaderPartitions, g.settings.Rounds)
	for i, ii := range g.indices {
		index := ii + g.offsets[i]
		if index >= len(g.leadersPartitions) {
			index -= len(g.leadersPartitions)
		}
		p[i] = g.leadersPartitions[index]
	}
	for i := int(g.settings.Rounds) - 1; i >= 0; i-- {
		g.indices[i]++
		if g.indices[i] < len(g.leadersPartitions) {
			break
		}
		g.indices[i] = 0
		if i <= 0 {
			g.indices = g.indices[0:0]
		}
	}
	g.remaining--

	for _, partition := range p {
		r := Round{Leader: partition.leader, Partitions: partition.partitions}
		if g.settings.NumTwins > 0 {
			r.TwinFavor = g.favor.PickSource(g.rnd).(FavorPolicy)
		}
		s = append(s, r)
	}
	return s, nil
}

func min(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func genPartitionSizes(n, k, min uint8) (sizes [][]uint8) {
	s := make([]uint8, k)
	genPartitionSizesRecursive(0, n, min, s, &sizes)
	return
}

func genPartitionSizesRecursive(i, n, minSize uint8, state []uint8, sizes *[][]uint8) {
	s := make([]uint8, len(state))
	copy(s, state)

	s[i] = n

	// if s[i] <= s[i-1], we have found a new valid state
	if i == 0 || (i > 0 && s[i-1] >= n) {
		// must make a new copy of the state to avoid overwriting it
		c := make([]uint8, len(s))
		copy(c, s)
		*sizes = append(*sizes, c)
	}

	// find the next valid size for the current index
	m := n - 1
	if i > 0 {
		m = min(m, s[i-1])
	}

	if int(i+1) < len(s) {
		// decrement the current partition and recurse
		// for the first partition, we want to ensure that its size is at least 'minSize',
		// for the other partitions, we will allow it to go down to a size of 1.
		for ; (i == 0 && m >= minSize) || (i != 0 && m > 0); m-- {
			s[i] = m
			genPartitionSizesRecursive(i+1, n-m, minSize, s, sizes)
		}
	}
}

type twinAssignment [2]uint8

// generateTwinPartitionPairs generates all useful ways to assign two twins to n partitions.
func generateTwinPartitionPairs(n uint8) (pairs []twinAssignment) {
	for i := uint8(0); i < n; i++ {
		for j := i; j < n; j++ {
			pairs = append(pairs, twinAssignment{i, j})
		}
	}
	return
}

// isValidTwinAssignment checks if the set of twinAssignments can be assigned to the partitions
// with sizes specified by partitionSizes.
func isValidTwinAssignment(twinAssignments []twinAssignment, partitionSizes []uint8) bool {
	ps := make([]uint8, len(partitionSizes))
	copy(ps, partitionSizes)
	for i := range twinAssignments {
		first := twinAssignments[i][0]
		if int(first) >= len(partitionSizes) || ps[first] == 0 {
			return false
		}
		ps[first]--
		second := twinAssignments[i][1]
		if int(second) >= len(partitionSizes) || ps[second] == 0 {
			return false
		}
		ps[second]--
	}
	return true
}

// TODO: optimize this
func cartesianProduct(input ...[]twinAssignment) (output [][]twinAssignment) {
	if len(input) == 0 {
		return [][]twinAssignment{nil}
	}

	r := cartesianProduct(input[1:]...)
	for _, v := range input[0] {
		for _, p := range r {
			output = append(output, append([]twinAssignment{v}, p...))
		}
	}
	return
}

func genPartitions(twins, nodes []NodeID, k uint8, min uint8) (partitionsSets [][]NodeSet) {
	n := uint8(len(twins) + len(nodes))

	// without twins, there is a single, empty assignment
	twinAssignments := [][]twinAssignment{nil}

	if len(twins)/2 > 0 {
		twinAssignments = [][]twinAssignment{generateTwinPartitionPairs(k)}
		for i := 1; i < len(twins)/2; i++ {
			twinAssignments = append(twinAssignments, twinAssignments[0])
		}
		twinAssignments = cartesianProduct(twinAssignments...)
	}

	sizes := genPartitionSizes(n, k, min)

	for i := range sizes {
		for j := range twinAssignments {
			if !isValidTwinAssignment(twinAssignments[j], sizes[i]) {
				continue
			}

			partitions := make([]NodeSet, k)
			for k := range sizes[i] {
				if sizes[i][k] > 0 {
					partitions[k] = make(NodeSet)
				}
			}

			twin := 0
			for k := range twinAssignments[j] {
				for _, t := range twinAssignments[j][k] {
					partitions[t].Add(twins[twin].NetworkID)
					twin++
				}
			}

			node := 0
			for k := range partitions {
				for sizes[i][k]-uint8(len(partitions[k])) > 0 {
					partitions[k].Add(nodes[node].NetworkID)
					node++
				}
			}

			partitionsSets = append(partitionsSets, partitions)
		}
	}
	return
}
