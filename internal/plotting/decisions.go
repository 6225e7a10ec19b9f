// Package plotting draws the results of twins runs.
package plotting

import (
	"errors"
	"fmt"
	"image/color"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/relab/vetomint/twins"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no decisions to plot")

// DecisionRoundPlot plots the distribution of the rounds in which correct nodes decided.
type DecisionRoundPlot struct {
	rounds    plotter.Values
	maxRound  float64
	scenarios int
}

// NewDecisionRoundPlot returns a new decision round plotter.
func NewDecisionRoundPlot() *DecisionRoundPlot {
	return &DecisionRoundPlot{}
}

// Add adds the decisions of a scenario to the plot.
func (p *DecisionRoundPlot) Add(result twins.ScenarioResult) {
	p.scenarios++
	for _, r := range result.DecisionRounds {
		v := float64(r)
		p.rounds = append(p.rounds, v)
		if v > p.maxRound {
			p.maxRound = v
		}
	}
}

// Len returns the number of decisions added.
func (p *DecisionRoundPlot) Len() int {
	return len(p.rounds)
}

// Save draws a histogram with one bin per round and writes it to the file.
// The format is chosen from the file extension.
func (p *DecisionRoundPlot) Save(filename string) error {
	if len(p.rounds) == 0 {
		return ErrNoData
	}
	plt := plot.New()
	plt.Title.Text = fmt.Sprintf("Decision rounds (%d scenarios)", p.scenarios)

	grid := plotter.NewGrid()
	grid.Horizontal.Color = color.Gray{Y: 200}
	grid.Horizontal.Dashes = plotutil.Dashes(2)
	grid.Vertical.Color = color.Gray{Y: 200}
	grid.Vertical.Dashes = plotutil.Dashes(2)
	plt.Add(grid)

	plt.X.Label.Text = "Round"
	plt.X.Tick.Marker = hplot.Ticks{N: 10}
	plt.Y.Label.Text = "Decisions"
	plt.Y.Tick.Marker = hplot.Ticks{N: 10}

	hist, err := plotter.NewHist(p.rounds, int(p.maxRound)+1)
	if err != nil {
		return fmt.Errorf("failed to create histogram: %w", err)
	}
	hist.FillColor = plotutil.Color(0)
	plt.Add(hist)

	if err := plt.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
