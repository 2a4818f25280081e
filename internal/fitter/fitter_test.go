package fitter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colasanti-lab/popsynth/internal/tables"
)

func binarySchema() tables.Schema {
	return tables.NewSchema([]string{"v"}, map[string]tables.VariableMetadata{
		"v": {Name: "v", Kind: tables.Categorical, Domain: []int{1, 2}},
	})
}

func cellWeight(cells []*tables.JointCell, code int) float64 {
	for _, c := range cells {
		if c.Codes[0] == code {
			return c.Weight
		}
	}
	return math.NaN()
}

// Scenario 1 from spec §8, area A: one binary variable, a marginal
// that pins the fitted joint to a single feasible allocation.
func TestFitScenario1(t *testing.T) {
	schema := binarySchema()
	joint := tables.NewMicroJoint(schema, []tables.JointCell{
		{Codes: []int{1}, Weight: 1},
		{Codes: []int{2}, Weight: 1},
	})
	cfg := Config{MaxIter: 50, RateTolerance: 1e-6, ConvergenceRate: 1e-9}

	marginalA := map[string]map[int]float64{"A": {1: 2, 2: 0}}
	marginal, err := tables.NewMarginal(schema, "v", marginalA)
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})

	targets, err := PrepareTargets(schema, marginals, "A", 2)
	require.NoError(t, err)

	fitted, report, err := Fit(schema, joint.CopyDeep(), targets, cfg)
	require.NoError(t, err)
	require.True(t, report.Converged)
	cells := fitted.Cells()
	require.Equal(t, 2.0, cellWeight(cells, 1))
	require.Equal(t, 0.0, cellWeight(cells, 2))
}

// Scenario 2 from spec §8: two variables, sum preserved at 10.
func TestFitScenario2(t *testing.T) {
	schema := tables.NewSchema([]string{"v", "w"}, map[string]tables.VariableMetadata{
		"v": {Name: "v", Kind: tables.Categorical, Domain: []int{1, 2}},
		"w": {Name: "w", Kind: tables.Categorical, Domain: []int{1, 2}},
	})
	joint := tables.NewMicroJoint(schema, []tables.JointCell{
		{Codes: []int{1, 1}, Weight: 1},
		{Codes: []int{1, 2}, Weight: 1},
		{Codes: []int{2, 1}, Weight: 1},
		{Codes: []int{2, 2}, Weight: 1},
	})
	cfg := Config{MaxIter: 500, RateTolerance: 1e-6, ConvergenceRate: 1e-12}

	vMarginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{"A": {1: 6, 2: 4}})
	require.NoError(t, err)
	wMarginal, err := tables.NewMarginal(schema, "w", map[string]map[int]float64{"A": {1: 5, 2: 5}})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": vMarginal, "w": wMarginal})

	targets, err := PrepareTargets(schema, marginals, "A", 10)
	require.NoError(t, err)

	fitted, report, err := Fit(schema, joint.CopyDeep(), targets, cfg)
	require.NoError(t, err)
	require.True(t, report.Converged)

	var total float64
	for _, c := range fitted.Cells() {
		total += c.Weight
	}
	require.InDelta(t, 10.0, total, 1e-6)

	// Marginal match within tolerance.
	var v1, w1 float64
	for _, c := range fitted.Cells() {
		if c.Codes[0] == 1 {
			v1 += c.Weight
		}
		if c.Codes[1] == 1 {
			w1 += c.Weight
		}
	}
	require.InDelta(t, 6.0, v1, 1e-3)
	require.InDelta(t, 5.0, w1, 1e-3)
}

// Round-trip law: fitting a joint that already matches all target
// marginals converges in at most one full sweep with zero change.
func TestFitAlreadyMatchingConvergesImmediately(t *testing.T) {
	schema := binarySchema()
	joint := tables.NewMicroJoint(schema, []tables.JointCell{
		{Codes: []int{1}, Weight: 3},
		{Codes: []int{2}, Weight: 2},
	})
	marginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{"A": {1: 3, 2: 2}})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})
	targets, err := PrepareTargets(schema, marginals, "A", 5)
	require.NoError(t, err)

	cfg := Config{MaxIter: 50, RateTolerance: 1e-9, ConvergenceRate: 1e-12}
	_, report, err := Fit(schema, joint.CopyDeep(), targets, cfg)
	require.NoError(t, err)
	require.True(t, report.Converged)
	require.LessOrEqual(t, report.Iterations, 1)
	require.Equal(t, 0.0, report.MaxRelChange)
}

// Infeasible case from spec §8 scenario 3: all microdata rows share
// v=1 but the marginal insists on v=2 exclusively. The variable's
// entire mass routes to a category with zero support, so the table
// collapses to zero and never converges within a tight tolerance.
func TestFitInfeasibleDoesNotConverge(t *testing.T) {
	schema := binarySchema()
	joint := tables.NewMicroJoint(schema, []tables.JointCell{
		{Codes: []int{1}, Weight: 1},
	})
	marginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{"A": {1: 0, 2: 3}})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})
	targets, err := PrepareTargets(schema, marginals, "A", 3)
	require.NoError(t, err)

	cfg := Config{MaxIter: 10, RateTolerance: 1e-9, ConvergenceRate: 1e-12}
	fitted, report, err := Fit(schema, joint.CopyDeep(), targets, cfg)
	require.ErrorIs(t, err, ErrNotConverged)
	require.False(t, report.Converged)
	require.Equal(t, 0.0, fitted.Cells()[0].Weight)
}

func TestPrepareTargetsRoundsHalfUp(t *testing.T) {
	schema := binarySchema()
	marginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{"A": {1: 1, 2: 1}})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})

	targets, err := PrepareTargets(schema, marginals, "A", 3)
	require.NoError(t, err)
	// 1/2*3 = 1.5 rounds up to 2 for both categories.
	require.Equal(t, 2.0, targets["v"][1])
	require.Equal(t, 2.0, targets["v"][2])
}
