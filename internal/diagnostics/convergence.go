// Package diagnostics renders optional convergence charts from fitter
// reports, giving a visual read on how many sweeps each area needed —
// useful when tuning max_iter or rate_tolerance across a run.
package diagnostics

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// AreaIterations pairs an area id with the sweep count its Fit report
// took to converge (or the sweep at which fitting stopped if it didn't).
type AreaIterations struct {
	Area       string
	Iterations int
	Converged  bool
}

// ConvergenceChart renders a scatter of iteration counts across areas,
// one point per area in the order supplied, and saves it as a PNG at
// path.
func ConvergenceChart(points []AreaIterations, path string) error {
	p := plot.New()
	p.Title.Text = "IPF convergence by area"
	p.X.Label.Text = "area index"
	p.Y.Label.Text = "iterations to converge"

	converged := make(plotter.XYs, 0, len(points))
	failed := make(plotter.XYs, 0)
	for i, pt := range points {
		xy := struct{ X, Y float64 }{X: float64(i), Y: float64(pt.Iterations)}
		if pt.Converged {
			converged = append(converged, xy)
		} else {
			failed = append(failed, xy)
		}
	}

	if len(converged) > 0 {
		s, err := plotter.NewScatter(converged)
		if err != nil {
			return fmt.Errorf("diagnostics: building converged series: %w", err)
		}
		p.Add(s)
		p.Legend.Add("converged", s)
	}
	if len(failed) > 0 {
		s, err := plotter.NewScatter(failed)
		if err != nil {
			return fmt.Errorf("diagnostics: building failed series: %w", err)
		}
		p.Add(s)
		p.Legend.Add("not converged", s)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("diagnostics: saving chart to %s: %w", path, err)
	}
	return nil
}
