// Package visualize renders convergence diagnostics of an optimization run.
//
// The plots answer the two questions asked of every derivative-free run: how
// fast the criterion fell per evaluation, and how the best criterion value
// developed over the run. Output is a PNG written via gonum/plot.
package visualize

import (
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/ezoic/sciopt/history"
	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

// ConvergencePlot writes a criterion-vs-evaluation plot for the given
// evaluation history to filename as a PNG. Two series are drawn: the raw
// criterion value of every evaluation and the best value reached so far.
// Criterion values are plotted on a log10 axis; non-positive values are
// clamped to the smallest positive value of the run so a converged run
// stays visible.
func ConvergencePlot(hist *history.History, filename string) error {
	if hist == nil || hist.Len() == 0 {
		return scioptErrors.NewValueError("visualize.ConvergencePlot", "empty history")
	}

	critvals := hist.CritValues()

	floor := math.Inf(1)
	for _, v := range critvals {
		if v > 0 && v < floor {
			floor = v
		}
	}
	if math.IsInf(floor, 1) {
		floor = 1e-16
	}

	raw := make(plotter.XYs, len(critvals))
	best := make(plotter.XYs, len(critvals))
	runningBest := math.Inf(1)
	for i, v := range critvals {
		if v < runningBest {
			runningBest = v
		}
		raw[i].X = float64(i)
		raw[i].Y = math.Log10(math.Max(v, floor))
		best[i].X = float64(i)
		best[i].Y = math.Log10(math.Max(runningBest, floor))
	}

	p := plot.New()
	p.Title.Text = "Convergence"
	p.X.Label.Text = "Evaluation"
	p.Y.Label.Text = "log10(criterion)"

	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return scioptErrors.Wrap(err, "visualize.ConvergencePlot")
	}
	rawLine.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}

	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return scioptErrors.Wrap(err, "visualize.ConvergencePlot")
	}
	bestLine.Width = vg.Points(2)

	p.Add(rawLine, bestLine)
	p.Legend.Add("criterion", rawLine)
	p.Legend.Add("best so far", bestLine)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 6*vg.Inch, filename); err != nil {
		return scioptErrors.Wrap(err, "visualize.ConvergencePlot")
	}
	return nil
}

// ParameterPlot writes the trajectory of every parameter over the run to
// filename as a PNG, one line per parameter.
func ParameterPlot(hist *history.History, filename string) error {
	if hist == nil || hist.Len() == 0 {
		return scioptErrors.NewValueError("visualize.ParameterPlot", "empty history")
	}

	xs := hist.Xs()
	n := len(xs[0])

	p := plot.New()
	p.Title.Text = "Parameter trajectories"
	p.X.Label.Text = "Evaluation"
	p.Y.Label.Text = "Parameter value"

	for j := 0; j < n; j++ {
		pts := make(plotter.XYs, len(xs))
		for i := range xs {
			pts[i].X = float64(i)
			pts[i].Y = xs[i][j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return scioptErrors.Wrap(err, "visualize.ParameterPlot")
		}
		line.Color = plotutil.Color(j)
		p.Add(line)
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, filename); err != nil {
		return scioptErrors.Wrap(err, "visualize.ParameterPlot")
	}
	return nil
}
