package twins

import (
	"fmt"
	"strings"

	"github.com/relab/vetomint"
	"github.com/relab/vetomint/metrics"
)

// FavorPolicy is the verdict that the twins give on the proposals of a round.
type FavorPolicy string

// Favor policies of the twins. Correct nodes always favor a proposal.
const (
	FavorHonest  FavorPolicy = ""        // favor every proposal
	FavorAgainst FavorPolicy = "against" // reject every proposal
	FavorSplit   FavorPolicy = "split"   // the first twin favors, the second rejects
)

// Round specifies the leader, the partitions and the behavior of the twins for a single round.
type Round struct {
	Leader     vetomint.ValidatorIndex `json:"leader"`
	Partitions []NodeSet               `json:"partitions"`
	TwinFavor  FavorPolicy             `json:"twin_favor,omitempty"`
}

// Scenario specifies the partitions and leaders of the first rounds of a twins scenario.
// Later rounds use round-robin leaders and a fully connected network.
type Scenario []Round

func (s Scenario) String() string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		sb.WriteString(fmt.Sprintf("leader: %d, partitions: ", s[i].Leader))
		for _, partition := range s[i].Partitions {
			sb.WriteString("[ ")
			for _, id := range partition.sorted() {
				sb.WriteString(fmt.Sprint(id))
				sb.WriteString(" ")
			}
			sb.WriteString("] ")
		}
		if s[i].TwinFavor != FavorHonest {
			sb.WriteString("twins: ")
			sb.WriteString(string(s[i].TwinFavor))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ScenarioResult contains the result and logs from executing a scenario.
type ScenarioResult struct {
	// Safe is false if two correct nodes decided different blocks.
	Safe bool
	// Decided is the number of correct nodes that decided.
	Decided int
	// Correct is the number of correct nodes, i.e. nodes without a twin.
	Correct int
	// DecisionRounds holds the round in which each correct node decided.
	DecisionRounds []vetomint.Round
	// Rounds is the estimate of the decision rounds of the correct nodes.
	Rounds metrics.Welford
	// Violations is the number of violations reported by correct nodes, and
	// FalseAccusations the number of those that name a correct node.
	Violations       int
	FalseAccusations int
	Ticks            int
	NetworkLog       string
	NodeLogs         map[NodeID]string
	Decisions        map[NodeID]vetomint.BlockIdentifier
}

// Live reports whether every correct node decided.
func (r ScenarioResult) Live() bool {
	return r.Decided == r.Correct
}

// ExecuteScenario executes a twins scenario.
func ExecuteScenario(scenario Scenario, settings Settings) (result ScenarioResult, err error) {
	if err := settings.validate(); err != nil {
		return ScenarioResult{}, err
	}
	// Network simulator that holds back messages between nodes that are in different partitions.
	network := NewPartitionedNetwork(scenario, settings.heightInfo())

	nodes, twins := assignNodeIDs(settings.NumNodes, settings.NumTwins)
	nodes = append(nodes, twins...)

	err = network.createTwinsNodes(nodes)
	if err != nil {
		return ScenarioResult{}, err
	}

	ticks, err := network.run(settings.Ticks)
	if err != nil {
		return ScenarioResult{}, err
	}

	result = checkDecisions(network)
	result.Ticks = ticks
	result.NetworkLog = network.log.String()
	result.NodeLogs = make(map[NodeID]string)
	for _, node := range network.nodes {
		result.NodeLogs[node.id] = node.log.String()
	}
	return result, nil
}

// checkDecisions checks that all correct nodes that decided, decided the same block.
// Twins may decide anything.
func checkDecisions(network *Network) ScenarioResult {
	result := ScenarioResult{
		Safe:      true,
		Decisions: make(map[NodeID]vetomint.BlockIdentifier),
	}
	var first vetomint.Target
	for _, node := range network.nodes {
		block, round, ok := node.replica.Decision()
		if ok {
			result.Decisions[node.id] = block
		}
		if node.isTwin() {
			continue
		}
		result.Correct++
		for _, v := range node.violations {
			result.Violations++
			if len(network.validators[v.Violator]) < 2 {
				result.FalseAccusations++
			}
		}
		if !ok {
			continue
		}
		result.Decided++
		result.DecisionRounds = append(result.DecisionRounds, round)
		result.Rounds.Update(float64(round))
		if first.IsNil() {
			first = vetomint.ForBlock(block)
		} else if first != vetomint.ForBlock(block) {
			result.Safe = false
		}
	}
	return result
}
