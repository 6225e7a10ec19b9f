package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/relab/vetomint/consensus"
	"github.com/relab/vetomint/internal/eventlog"
	"github.com/relab/vetomint/leaderrotation"
	"github.com/relab/vetomint/logging"
)

var (
	replayFormat   string
	leaderRotation string
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay an event log.",
	Long: `The replay command feeds the events of a recorded height to a fresh consensus instance
and checks that it emits the same responses as the recorded replica.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return replay(args[0])
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayFormat, "format", string(eventlog.FormatJSON), fmt.Sprintf("Format of the event log %v.", eventlog.Formats()))
	replayCmd.Flags().StringVar(&leaderRotation, "leader-rotation", leaderrotation.NameRoundRobin, fmt.Sprintf("Leader rotation used by the recorded replica %v.", leaderrotation.Names()))
}

func replay(path string) (err error) {
	logger := logging.New("replay")

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	rd, err := eventlog.NewReader(bufio.NewReader(f), eventlog.Format(replayFormat))
	if err != nil {
		return err
	}
	info, entries, err := rd.ReadAll()
	if err != nil {
		return err
	}
	lr, err := leaderrotation.New(leaderRotation, info)
	if err != nil {
		return err
	}

	res, err := eventlog.Replay(info, entries,
		consensus.WithLogger(logger),
		consensus.WithLeaderRotation(lr),
	)
	if err != nil {
		return err
	}
	for _, m := range res.Mismatches {
		logger.Warn(m)
	}
	if block, ok := res.State.Decision(); ok {
		logger.Infof("Replayed %d events: decided block %d in round %d", res.Steps, block, res.State.Round())
	} else {
		logger.Infof("Replayed %d events: undecided in round %d, step %v", res.Steps, res.State.Round(), res.State.Step())
	}
	if len(res.Mismatches) > 0 {
		return fmt.Errorf("%d of %d events produced different responses", len(res.Mismatches), res.Steps)
	}
	return nil
}
