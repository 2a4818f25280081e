// Package fitter implements per-area iterative proportional fitting
// (IPF): reweighting a microdata joint frequency table so its marginals
// match an area's target marginals for every fitting variable.
package fitter

import (
	"errors"
	"math"

	"github.com/colasanti-lab/popsynth/internal/tables"
)

// ErrNotConverged indicates fitting stopped without the marginal
// discrepancy reaching RateTolerance, either at Config.MaxIter or
// earlier when the discrepancy stalls. It is a soft, per-area failure:
// the caller decides whether to drop the area or abort the run.
var ErrNotConverged = errors.New("fitter: did not converge within max_iter")

// Config holds the tuning knobs for one fitting run (spec §6's
// max_iter, rate_tolerance, convergence_rate).
type Config struct {
	MaxIter         int
	RateTolerance   float64
	ConvergenceRate float64
}

// TargetMarginal maps a category code to its target household count for
// one variable in one area.
type TargetMarginal map[int]float64

// Report summarizes one area's fitting run.
type Report struct {
	Converged    bool
	Iterations   int
	MaxRelChange float64
	// Empty is true when every variable's target marginal summed to
	// zero before the first sweep — the area produces no households.
	Empty bool
}

// PrepareTargets converts each variable's raw area marginal into target
// household counts: target_v(d) = 0 if Σm = 0, else round(m(d)/Σm *
// nHouses) with ties rounding away from zero (up, since totals are
// nonnegative).
func PrepareTargets(schema tables.Schema, marginals *tables.MarginalSet, area string, nHouses float64) (map[string]TargetMarginal, error) {
	targets := make(map[string]TargetMarginal, len(schema.Variables))
	for _, v := range schema.Variables {
		m := marginals.For(v)
		if m == nil {
			targets[v] = TargetMarginal{}
			continue
		}
		raw, err := m.Project(area)
		if err != nil {
			return nil, err
		}
		sum := m.Sum(area)
		target := make(TargetMarginal, len(raw))
		for code, val := range raw {
			if sum == 0 {
				target[code] = 0
			} else {
				target[code] = roundHalfUp(val / sum * nHouses)
			}
		}
		targets[v] = target
	}
	return targets, nil
}

func roundHalfUp(x float64) float64 {
	if x < 0 {
		return -math.Floor(-x + 0.5)
	}
	return math.Floor(x + 0.5)
}

// allTargetsZero reports whether every variable's target marginal sums
// to zero — the area has no usable constraint and yields no households.
func allTargetsZero(schema tables.Schema, targets map[string]TargetMarginal) bool {
	for _, v := range schema.Variables {
		var sum float64
		for _, val := range targets[v] {
			sum += val
		}
		if sum != 0 {
			return false
		}
	}
	return true
}

// Fit runs classical multi-dimensional IPF on joint (a fresh deep copy
// the caller owns), reweighting cells so every variable's marginal
// matches targets, and returns the fitted table plus a convergence
// report. A zero-valued cell, or a cell whose variable's current
// marginal sum is zero, is left untouched for that sweep — the guard
// that makes the algorithm well-defined without special-casing.
func Fit(schema tables.Schema, joint *tables.MicroJoint, targets map[string]TargetMarginal, cfg Config) (*tables.MicroJoint, Report, error) {
	if allTargetsZero(schema, targets) {
		for _, c := range joint.Cells() {
			c.Weight = 0
		}
		return joint, Report{Converged: true, Empty: true}, nil
	}

	cells := joint.Cells()

	prevMaxRel := math.Inf(1)
	belowRateStreak := 0

	for iter := 1; iter <= cfg.MaxIter; iter++ {
		for _, v := range schema.Variables {
			idx := schema.Index(v)
			target := targets[v]

			sums := make(map[int]float64, len(target))
			for _, c := range cells {
				sums[c.Codes[idx]] += c.Weight
			}

			for _, c := range cells {
				d := c.Codes[idx]
				s := sums[d]
				if s > 0 {
					c.Weight *= target[d] / s
				}
			}
		}

		// Convergence is measured against the marginal-match invariant
		// itself: recompute each variable's achieved marginal from the
		// post-sweep weights and compare to its target, rather than
		// against the previous sweep's weights. A table can go
		// numerically quiet (no more weight movement) while still
		// missing an unreachable target — e.g. a category no cell
		// carries — and that must keep counting as unconverged.
		maxRel := marginalDiscrepancy(schema, cells, targets)

		if maxRel <= cfg.RateTolerance {
			return joint, Report{Converged: true, Iterations: iter, MaxRelChange: maxRel}, nil
		}

		// A stall — successive sweeps moving the discrepancy by less
		// than convergence_rate — means the table has gone numerically
		// quiet without reaching rate_tolerance. That is still a
		// failure to converge (the infeasible-target case stalls at
		// its first sweep and must keep failing), so it only shortcuts
		// the remaining max_iter budget rather than declaring success.
		if math.Abs(maxRel-prevMaxRel) < cfg.ConvergenceRate {
			belowRateStreak++
			if belowRateStreak >= 2 {
				return joint, Report{Converged: false, Iterations: iter, MaxRelChange: maxRel}, ErrNotConverged
			}
		} else {
			belowRateStreak = 0
		}
		prevMaxRel = maxRel
	}

	return joint, Report{Converged: false, Iterations: cfg.MaxIter, MaxRelChange: prevMaxRel}, ErrNotConverged
}

// marginalDiscrepancy returns the largest relative gap between each
// variable's achieved marginal (summed from cells' current weights)
// and its target, normalized by max(1, target) as spec's marginal
// match invariant defines it.
func marginalDiscrepancy(schema tables.Schema, cells []*tables.JointCell, targets map[string]TargetMarginal) float64 {
	var maxRel float64
	for _, v := range schema.Variables {
		idx := schema.Index(v)
		target := targets[v]

		achieved := make(map[int]float64, len(target))
		for _, c := range cells {
			achieved[c.Codes[idx]] += c.Weight
		}

		for d, want := range target {
			got := achieved[d]
			rel := math.Abs(got-want) / math.Max(1, want)
			if rel > maxRel {
				maxRel = rel
			}
		}
	}
	return maxRel
}
