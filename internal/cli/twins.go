package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/relab/vetomint/internal/plotting"
	"github.com/relab/vetomint/logging"
	"github.com/relab/vetomint/twins"
)

var (
	numNodes      uint8
	numTwins      uint8
	numPartitions uint8
	numRounds     uint8
	numScenarios  int64
	numTicks      int
	timeoutMS     uint64
	workers       int
	shuffle       bool
	randSeed      int64
	twinsDest     string
	twinsSource   string
	plotDest      string
	logAll        bool
	noProgress    bool
)

var twinsCmd = &cobra.Command{
	Use:       "twins [run|generate]",
	Short:     "Generate and execute Twins scenarios.",
	Long:      `The twins command allows for generating and executing twins scenarios.`,
	ValidArgs: []string{"run", "generate"},
	Args:      cobra.ExactValidArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "run":
			return twinsRun(cmd.Context())
		case "generate":
			return twinsGenerate()
		default:
			return fmt.Errorf("unknown argument '%s'", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(twinsCmd)

	twinsCmd.Flags().Uint8Var(&numNodes, "replicas", 4, "Number of validators.")
	twinsCmd.Flags().Uint8Var(&numTwins, "twins", 1, "Number of validators with an \"evil\" twin.")
	twinsCmd.Flags().Uint8Var(&numPartitions, "partitions", 2, "Number of network partitions.")
	twinsCmd.Flags().Uint8Var(&numRounds, "rounds", 4, "Number of rounds in each scenario.")
	twinsCmd.Flags().Int64Var(&numScenarios, "scenarios", 100, "Number of scenarios to generate or execute.")
	twinsCmd.Flags().IntVar(&numTicks, "ticks", twins.DefaultTicks, "Maximum number of network ticks per scenario.")
	twinsCmd.Flags().Uint64Var(&timeoutMS, "timeout-ms", twins.DefaultTimeoutMS, "Timeout of the first round in milliseconds.")
	twinsCmd.Flags().IntVar(&workers, "workers", 4, "Number of scenarios to execute concurrently.")
	twinsCmd.Flags().BoolVar(&shuffle, "shuffle", false, "Shuffle the order in which scenarios are generated.")
	twinsCmd.Flags().Int64Var(&randSeed, "seed", 0, "Random seed for shuffling.")
	twinsCmd.Flags().StringVar(&twinsDest, "output", "twins.json", "File to write scenarios to.")
	twinsCmd.Flags().StringVar(&twinsSource, "input", "", "Execute the scenarios of this file instead of generating them.")
	twinsCmd.Flags().StringVar(&plotDest, "plot", "", "File to plot the decision rounds to (png, svg or pdf).")
	twinsCmd.Flags().BoolVar(&logAll, "log-all", false, "If true, all scenarios will be written to the output file when in \"run\" mode.")
	twinsCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not show a progress bar.")
}

func twinsSettings() twins.Settings {
	return twins.Settings{
		NumNodes:   numNodes,
		NumTwins:   numTwins,
		Partitions: numPartitions,
		Rounds:     numRounds,
		Ticks:      numTicks,
		TimeoutMS:  timeoutMS,
		Shuffle:    shuffle,
		Seed:       randSeed,
	}
}

// scenarioSource returns the scenarios of the input file, or a generator.
func scenarioSource(logger logging.Logger) (source twins.ScenarioSource, closeFn func() error, err error) {
	if twinsSource == "" {
		g, err := twins.NewGenerator(logger, twinsSettings())
		if err != nil {
			return nil, nil, err
		}
		return twins.Limit(g, numScenarios), func() error { return nil }, nil
	}
	f, err := os.Open(twinsSource)
	if err != nil {
		return nil, nil, err
	}
	source, err = twins.FromJSON(bufio.NewReader(f))
	if err != nil {
		return nil, nil, multierr.Append(err, f.Close())
	}
	return twins.Limit(source, numScenarios), f.Close, nil
}

// scenarioWriter writes scenarios to the output file.
type scenarioWriter struct {
	f   *os.File
	buf *bufio.Writer
	*twins.JSONWriter
}

func newScenarioWriter(settings twins.Settings) (*scenarioWriter, error) {
	f, err := os.OpenFile(twinsDest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	jwr, err := twins.ToJSON(settings, buf)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	return &scenarioWriter{f: f, buf: buf, JSONWriter: jwr}, nil
}

func (w *scenarioWriter) Close() error {
	err := w.JSONWriter.Close()
	err = multierr.Append(err, w.buf.Flush())
	return multierr.Append(err, w.f.Close())
}

func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	if noProgress {
		return progressbar.DefaultSilent(total, description)
	}
	return progressbar.Default(total, description)
}

func twinsRun(ctx context.Context) (err error) {
	logger := logging.New("twins")
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	source, closeSource, err := scenarioSource(logger)
	if err != nil {
		return fmt.Errorf("failed to create scenario source: %w", err)
	}
	defer func() { err = multierr.Append(err, closeSource()) }()

	out, err := newScenarioWriter(source.Settings())
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	bar := newProgressBar(source.Remaining(), "Executing:")
	plot := plotting.NewDecisionRoundPlot()

	runner := twins.NewRunner(logger, workers)
	runner.OnResult = func(scenario twins.Scenario, result twins.ScenarioResult) {
		_ = bar.Add(1)
		plot.Add(result)
		if !result.Safe || logAll {
			if werr := out.WriteScenario(scenario); werr != nil {
				logger.Errorf("failed to write scenario: %v", werr)
			}
		}
	}
	summary, err := runner.Run(ctx, source)
	_ = bar.Finish()
	if err != nil {
		return err
	}
	if plotDest != "" {
		if err := plot.Save(plotDest); err != nil {
			return err
		}
	}
	if !summary.Safe() {
		return fmt.Errorf("found %d unsafe scenarios, written to %s", len(summary.Unsafe), twinsDest)
	}
	return nil
}

func twinsGenerate() (err error) {
	logger := logging.New("twins")
	g, err := twins.NewGenerator(logger, twinsSettings())
	if err != nil {
		return fmt.Errorf("failed to create twins generator: %w", err)
	}
	source := twins.Limit(g, numScenarios)

	out, err := newScenarioWriter(source.Settings())
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	bar := newProgressBar(source.Remaining(), "Generating:")
	count := 0
	for {
		scenario, err := source.NextScenario()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := out.WriteScenario(scenario); err != nil {
			return err
		}
		count++
		_ = bar.Add(1)
	}
	logger.Infof("Wrote %d scenarios to %s", count, twinsDest)
	return bar.Finish()
}
