package orchestrator

import (
	"context"
	"testing"

	"github.com/ctessum/geom"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/colasanti-lab/popsynth/internal/config"
	"github.com/colasanti-lab/popsynth/internal/metrics"
	"github.com/colasanti-lab/popsynth/internal/obslog"
	"github.com/colasanti-lab/popsynth/internal/tables"
)

func unitSquare() geom.Polygon {
	return geom.Polygon{{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0},
	}}
}

func twoAreaOrchestrator(t *testing.T, failFast bool) *Orchestrator {
	t.Helper()
	schema := tables.NewSchema([]string{"v"}, map[string]tables.VariableMetadata{
		"v": {Name: "v", Kind: tables.Categorical, Domain: []int{1, 2}},
	})
	globals := tables.NewGlobalTotals(map[string]tables.AreaTotals{
		"A": {Population: 10, Households: 2},
		"B": {Population: 5, Households: 1},
	})
	marginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{
		"A": {1: 2, 2: 0},
		"B": {1: 0, 2: 1},
	})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})

	joint := tables.NewMicroJoint(schema, []tables.JointCell{
		{Codes: []int{1}, Weight: 1},
		{Codes: []int{2}, Weight: 1},
	})

	rows := []tables.Row{
		{Index: 0, HouseholdID: "h1", Codes: []int{1}, PersonAttrs: map[string]string{"age": "30"}},
		{Index: 1, HouseholdID: "h1", Codes: []int{1}, PersonAttrs: map[string]string{"age": "5"}},
		{Index: 2, HouseholdID: "h2", Codes: []int{2}, PersonAttrs: map[string]string{"age": "40"}},
	}
	micro := tables.NewMicroCategorical(schema, rows)

	polygons := tables.NewPolygons(map[string]geom.Polygonal{
		"A": unitSquare(),
		"B": unitSquare(),
	})

	cfg := config.Default()
	cfg.FailFast = failFast
	cfg.PoolSize = 2
	cfg.Seed = 1

	logger := obslog.New(obslog.Config{Level: obslog.LevelError})
	return New(schema, globals, marginals, joint, micro, polygons, cfg, logger)
}

func TestRunProducesHouseholdsForEveryArea(t *testing.T) {
	o := twoAreaOrchestrator(t, false)
	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Report.SoftFailures)

	var areaA, areaB int
	for _, hh := range result.Households {
		switch hh.Area {
		case "A":
			areaA++
		case "B":
			areaB++
		}
		require.GreaterOrEqual(t, hh.Lon, 0.0)
		require.LessOrEqual(t, hh.Lon, 1.0)
	}
	require.Equal(t, 2, areaA)
	require.Equal(t, 1, areaB)
	require.NotEmpty(t, result.Persons)
}

func TestRunDeterministicAcrossPoolSizes(t *testing.T) {
	o1 := twoAreaOrchestrator(t, false)
	o1.Config.PoolSize = 1
	r1, err := o1.Run(context.Background())
	require.NoError(t, err)

	o2 := twoAreaOrchestrator(t, false)
	o2.Config.PoolSize = 4
	r2, err := o2.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(r1.Households), len(r2.Households))
	for i := range r1.Households {
		require.Equal(t, r1.Households[i].Area, r2.Households[i].Area)
		require.Equal(t, r1.Households[i].Attrs, r2.Households[i].Attrs)
		require.Equal(t, r1.Households[i].Lon, r2.Households[i].Lon)
		require.Equal(t, r1.Households[i].Lat, r2.Households[i].Lat)
	}
}

// Scenario 3 from spec §8: an infeasible area (marginal insists on an
// unsupported category) is flagged NotConverged; under fail_fast=false
// the run still succeeds overall with that area contributing nothing.
func TestRunSoftFailureUnderFailFastFalse(t *testing.T) {
	schema := tables.NewSchema([]string{"v"}, map[string]tables.VariableMetadata{
		"v": {Name: "v", Kind: tables.Categorical, Domain: []int{1, 2}},
	})
	globals := tables.NewGlobalTotals(map[string]tables.AreaTotals{
		"A": {Population: 3, Households: 3},
	})
	marginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{
		"A": {1: 0, 2: 3},
	})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})
	joint := tables.NewMicroJoint(schema, []tables.JointCell{{Codes: []int{1}, Weight: 1}})
	micro := tables.NewMicroCategorical(schema, []tables.Row{{Index: 0, HouseholdID: "h1", Codes: []int{1}}})
	polygons := tables.NewPolygons(map[string]geom.Polygonal{"A": unitSquare()})

	cfg := config.Default()
	cfg.MaxIter = 10
	cfg.FailFast = false
	cfg.PoolSize = 1

	logger := obslog.New(obslog.Config{Level: obslog.LevelError})
	o := New(schema, globals, marginals, joint, micro, polygons, cfg, logger)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Households)
	require.Len(t, result.Report.SoftFailures, 1)
	require.Equal(t, "fit", result.Report.SoftFailures[0].Stage)
}

func TestRunAbortsUnderFailFastTrue(t *testing.T) {
	schema := tables.NewSchema([]string{"v"}, map[string]tables.VariableMetadata{
		"v": {Name: "v", Kind: tables.Categorical, Domain: []int{1, 2}},
	})
	globals := tables.NewGlobalTotals(map[string]tables.AreaTotals{
		"A": {Population: 3, Households: 3},
	})
	marginal, err := tables.NewMarginal(schema, "v", map[string]map[int]float64{
		"A": {1: 0, 2: 3},
	})
	require.NoError(t, err)
	marginals := tables.NewMarginalSet(schema, map[string]*tables.Marginal{"v": marginal})
	joint := tables.NewMicroJoint(schema, []tables.JointCell{{Codes: []int{1}, Weight: 1}})
	micro := tables.NewMicroCategorical(schema, []tables.Row{{Index: 0, HouseholdID: "h1", Codes: []int{1}}})
	polygons := tables.NewPolygons(map[string]geom.Polygonal{"A": unitSquare()})

	cfg := config.Default()
	cfg.MaxIter = 10
	cfg.FailFast = true
	cfg.PoolSize = 1

	logger := obslog.New(obslog.Config{Level: obslog.LevelError})
	o := New(schema, globals, marginals, joint, micro, polygons, cfg, logger)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
}

// Areas that clear every stage record a convergence stat and an
// Emitted final state; a nil Metrics registry (the default) never
// increments anything, so a run never has to carry one just to stay
// correct.
func TestRunRecordsConvergenceAndAreaStates(t *testing.T) {
	o := twoAreaOrchestrator(t, false)
	result, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Report.Convergence, 2)
	for _, c := range result.Report.Convergence {
		require.True(t, c.Converged)
	}

	require.Equal(t, StateEmitted, result.Report.AreaStates["A"])
	require.Equal(t, StateEmitted, result.Report.AreaStates["B"])
}

// A Metrics registry, once attached, has its counters and histogram
// driven by the per-area success and failure paths.
func TestRunIncrementsMetricsWhenRegistryAttached(t *testing.T) {
	o := twoAreaOrchestrator(t, false)
	reg := metrics.NewRegistry()
	o.Metrics = reg

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, float64(2), testutil.ToFloat64(reg.AreasProcessed.WithLabelValues("select")))
	require.Equal(t, float64(2), testutil.ToFloat64(reg.AreasProcessed.WithLabelValues("place")))

	var m dto.Metric
	require.NoError(t, reg.FitDuration.Write(&m))
	require.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
}
