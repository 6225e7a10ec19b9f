// Package twins implements a framework for testing the consensus with Byzantine twins.
//
// A twin is a second node that runs with the same validator index as another node. Twins
// propose and vote independently, which makes the validator equivocate. A scenario places the
// nodes in network partitions round by round and decides which validator proposes in each round.
// Executing a scenario runs every node in a deterministic, simulated network and checks that
// no two correct nodes decide different blocks.
package twins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/relab/vetomint"
)

// ScenarioSource is a source of twins scenarios to execute.
type ScenarioSource interface {
	Settings() Settings
	// NextScenario returns the next scenario, or io.EOF if there are no more scenarios.
	NextScenario() (Scenario, error)
	Remaining() int64
}

type twinsJSON struct {
	NumNodes   uint8             `json:"num_nodes"`
	NumTwins   uint8             `json:"num_twins"`
	Partitions uint8             `json:"partitions"`
	Rounds     uint8             `json:"rounds"`
	Ticks      int               `json:"ticks"`
	TimeoutMS  uint64            `json:"timeout_ms"`
	Shuffle    bool              `json:"shuffle"`
	Seed       int64             `json:"seed"`
	Scenarios  []json.RawMessage `json:"scenarios"`

	scenario int
}

func (t twinsJSON) Settings() Settings {
	return Settings{
		NumNodes:   t.NumNodes,
		NumTwins:   t.NumTwins,
		Partitions: t.Partitions,
		Rounds:     t.Rounds,
		Ticks:      t.Ticks,
		TimeoutMS:  t.TimeoutMS,
		Shuffle:    t.Shuffle,
		Seed:       t.Seed,
	}
}

func (t *twinsJSON) NextScenario() (Scenario, error) {
	if t.scenario >= len(t.Scenarios) {
		return nil, io.EOF
	}
	var s Scenario
	err := json.Unmarshal(t.Scenarios[t.scenario], &s)
	t.scenario++
	if err != nil {
		return nil, err
	}
	if err := s.validate(t.Settings()); err != nil {
		return nil, fmt.Errorf("scenario %d: %w", t.scenario-1, err)
	}
	return s, nil
}

func (t *twinsJSON) Remaining() int64 {
	return int64(len(t.Scenarios) - t.scenario)
}

// FromJSON returns a scenario source that reads from the given reader.
func FromJSON(rd io.Reader) (ScenarioSource, error) {
	var root twinsJSON
	dec := json.NewDecoder(rd)
	err := dec.Decode(&root)
	if err != nil {
		return nil, err
	}
	settings := root.Settings()
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// Settings contains the settings used with the scenario generator.
type Settings struct {
	NumNodes   uint8
	NumTwins   uint8
	Partitions uint8
	Rounds     uint8
	Ticks      int
	TimeoutMS  uint64
	Shuffle    bool
	Seed       int64
}

// Defaults for settings left at zero.
const (
	DefaultTicks     = 2000
	DefaultTimeoutMS = 100
)

var (
	errNoNodes      = errors.New("twins: no nodes")
	errTooManyTwins = errors.New("twins: more twins than nodes")
	errBadScenario  = errors.New("twins: invalid scenario")
)

func (s *Settings) validate() error {
	if s.NumNodes == 0 {
		return errNoNodes
	}
	if s.NumTwins > s.NumNodes {
		return fmt.Errorf("%w: %d twins, %d nodes", errTooManyTwins, s.NumTwins, s.NumNodes)
	}
	if s.Ticks <= 0 {
		s.Ticks = DefaultTicks
	}
	if s.TimeoutMS == 0 {
		s.TimeoutMS = DefaultTimeoutMS
	}
	return nil
}

func (s Scenario) validate(settings Settings) error {
	numIDs := uint32(settings.NumNodes) + uint32(settings.NumTwins)
	for i, r := range s {
		if r.Leader < 0 || int(r.Leader) >= int(settings.NumNodes) {
			return fmt.Errorf("%w: round %d: leader %d out of range", errBadScenario, i, r.Leader)
		}
		switch r.TwinFavor {
		case FavorHonest, FavorAgainst, FavorSplit:
		default:
			return fmt.Errorf("%w: round %d: unknown favor policy %q", errBadScenario, i, r.TwinFavor)
		}
		for _, partition := range r.Partitions {
			for id := range partition {
				if id == 0 || id > numIDs {
					return fmt.Errorf("%w: round %d: unknown node %d", errBadScenario, i, id)
				}
			}
		}
	}
	return nil
}

// heightInfo returns the height of the scenario: equal powers and round 0 starting at time 0.
func (s Settings) heightInfo() vetomint.HeightInfo {
	powers := make([]uint64, s.NumNodes)
	for i := range powers {
		powers[i] = 1
	}
	return vetomint.NewHeightInfo(powers, 0, 0, vetomint.ConsensusParams{TimeoutMS: s.TimeoutMS})
}

// JSONWriter writes scenarios to JSON.
type JSONWriter struct {
	mut   sync.Mutex
	wr    io.Writer
	first bool
}

// WriteScenario writes a single scenario to the JSON stream.
func (jwr *JSONWriter) WriteScenario(s Scenario) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	jwr.mut.Lock()
	defer jwr.mut.Unlock()
	if jwr.first {
		_, err = io.WriteString(jwr.wr, "\n\t\t")
		jwr.first = false
	} else {
		_, err = io.WriteString(jwr.wr, ",\n\t\t")
	}
	if err != nil {
		return err
	}
	_, err = jwr.wr.Write(buf)
	return err
}

// Close closes the JSON stream.
func (jwr *JSONWriter) Close() error {
	tail := "\n\t]\n}"
	_, err := io.WriteString(jwr.wr, tail)
	return err
}

// ToJSON returns a JSONWriter that can be used to write scenarios as JSON.
func ToJSON(settings Settings, wr io.Writer) (*JSONWriter, error) {
	head := fmt.Sprintf(`{
	"num_nodes": %d,
	"num_twins": %d,
	"partitions": %d,
	"rounds": %d,
	"ticks": %d,
	"timeout_ms": %d,
	"shuffle": %t,
	"seed": %d,
	"scenarios": [`,
		settings.NumNodes,
		settings.NumTwins,
		settings.Partitions,
		settings.Rounds,
		settings.Ticks,
		settings.TimeoutMS,
		settings.Shuffle,
		settings.Seed,
	)

	_, err := io.WriteString(wr, head)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{wr: wr, first: true}, nil
}

type limited struct {
	ScenarioSource
	n int64
}

// Limit returns a source that yields at most n scenarios of the source.
func Limit(source ScenarioSource, n int64) ScenarioSource {
	return &limited{ScenarioSource: source, n: n}
}

func (l *limited) NextScenario() (Scenario, error) {
	if l.n <= 0 {
		return nil, io.EOF
	}
	l.n--
	return l.ScenarioSource.NextScenario()
}

func (l *limited) Remaining() int64 {
	if r := l.ScenarioSource.Remaining(); r < l.n {
		return r
	}
	return l.n
}
