package twins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/montanaflynn/stats"
	"go.uber.org/multierr"

	"github.com/relab/vetomint/logging"
	"github.com/relab/vetomint/metrics"
)

// Summary aggregates the results of many scenarios.
type Summary struct {
	Scenarios int
	Unsafe    []Scenario
	// Live is the number of scenarios in which every correct node decided.
	Live             int
	Violations       int
	FalseAccusations int
	// DecisionRounds holds the decision round of every correct node in every scenario.
	DecisionRounds stats.Float64Data
	Rounds         metrics.Welford
}

// Safe reports whether every scenario was safe.
func (s *Summary) Safe() bool {
	return len(s.Unsafe) == 0
}

// Percentile returns the given percentile of the decision rounds, or 0 if no node decided.
func (s *Summary) Percentile(percent float64) float64 {
	p, err := stats.Percentile(s.DecisionRounds, percent)
	if err != nil {
		return 0
	}
	return p
}

// MaxRound returns the highest decision round, or 0 if no node decided.
func (s *Summary) MaxRound() float64 {
	m, err := stats.Max(s.DecisionRounds)
	if err != nil {
		return 0
	}
	return m
}

func (s *Summary) String() string {
	median, _ := stats.Median(s.DecisionRounds)
	return fmt.Sprintf("scenarios: %d, unsafe: %d, live: %d, violations: %d (false: %d), decision round median: %.1f, p90: %.1f, max: %.0f (%s)",
		s.Scenarios, len(s.Unsafe), s.Live, s.Violations, s.FalseAccusations,
		median, s.Percentile(90), s.MaxRound(), &s.Rounds)
}

func (s *Summary) add(scenario Scenario, result ScenarioResult) {
	s.Scenarios++
	if !result.Safe {
		s.Unsafe = append(s.Unsafe, scenario)
	}
	if result.Live() {
		s.Live++
	}
	s.Violations += result.Violations
	s.FalseAccusations += result.FalseAccusations
	for _, r := range result.DecisionRounds {
		s.DecisionRounds = append(s.DecisionRounds, float64(r))
	}
	s.Rounds.Merge(result.Rounds)
}

// Runner executes the scenarios of a source on a pool of workers.
type Runner struct {
	logger  logging.Logger
	workers int
	// OnResult, if set, is called after each scenario. Calls are serialized.
	OnResult func(Scenario, ScenarioResult)
}

// NewRunner returns a runner with the given number of workers.
func NewRunner(logger logging.Logger, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{logger: logger, workers: workers}
}

// Run executes every scenario of the source, or until the context is canceled.
func (r *Runner) Run(ctx context.Context, source ScenarioSource) (*Summary, error) {
	settings := source.Settings()
	pool := workerpool.New(r.workers)

	var (
		mut     sync.Mutex
		summary Summary
		errs    error
	)
	for ctx.Err() == nil {
		scenario, err := source.NextScenario()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		pool.Submit(func() {
			result, err := ExecuteScenario(scenario, settings)
			mut.Lock()
			defer mut.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("scenario %v: %w", scenario, err))
				return
			}
			if !result.Safe {
				r.logger.Warnf("Unsafe scenario:\n%v", scenario)
			}
			summary.add(scenario, result)
			if r.OnResult != nil {
				r.OnResult(scenario, result)
			}
		})
	}
	pool.StopWait()
	r.logger.Infof("Twins: %s", &summary)
	return &summary, multierr.Append(errs, ctx.Err())
}
