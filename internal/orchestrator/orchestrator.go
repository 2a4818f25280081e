// Package orchestrator owns the area work list and drives each area
// through the Fitter -> Integerizer -> Selector -> Placer pipeline,
// running a fixed-size worker pool the way the teacher's parallel.go
// ran annealing workers over constraint areas, but split into the two
// phases spec §5 requires: fit/integerize/select first, placement
// second, over the same pool.
package orchestrator

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/colasanti-lab/popsynth/internal/config"
	"github.com/colasanti-lab/popsynth/internal/fitter"
	"github.com/colasanti-lab/popsynth/internal/integerize"
	"github.com/colasanti-lab/popsynth/internal/metrics"
	"github.com/colasanti-lab/popsynth/internal/obslog"
	"github.com/colasanti-lab/popsynth/internal/placer"
	"github.com/colasanti-lab/popsynth/internal/selector"
	"github.com/colasanti-lab/popsynth/internal/tables"
)

// Orchestrator holds the read-only input tables and tuning config for
// one run.
type Orchestrator struct {
	Schema    tables.Schema
	Globals   *tables.GlobalTotals
	Marginals *tables.MarginalSet
	Joint     *tables.MicroJoint
	Micro     *tables.MicroCategorical
	Polygons  *tables.Polygons
	Config    config.Config
	Logger    *obslog.Logger
	Metrics   *metrics.Registry // optional; nil disables metrics
}

// New builds an Orchestrator from its input tables and tuning config.
func New(schema tables.Schema, globals *tables.GlobalTotals, marginals *tables.MarginalSet,
	joint *tables.MicroJoint, micro *tables.MicroCategorical, polygons *tables.Polygons,
	cfg config.Config, logger *obslog.Logger) *Orchestrator {
	return &Orchestrator{
		Schema:    schema,
		Globals:   globals,
		Marginals: marginals,
		Joint:     joint,
		Micro:     micro,
		Polygons:  polygons,
		Config:    cfg,
		Logger:    logger,
	}
}

// areaRNG returns a per-area random source seeded from the area
// identifier and the run seed, so outcomes never depend on which
// worker happens to process an area or in what order (spec §5's "no
// shared RNG" requirement).
func areaRNG(area string, runSeed int64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(area))
	mix := int64(h.Sum64()) ^ runSeed
	return rand.New(rand.NewSource(mix))
}

// phase1Result is one area's outcome from fitting through selection.
type phase1Result struct {
	area        string
	state       AreaState
	rows        []tables.Row
	soft        *SoftFailure
	convergence *ConvergenceStat
}

// phase2Result is one area's outcome from placement.
type phase2Result struct {
	area  string
	state AreaState
	coord []placer.Coordinate
	soft  *SoftFailure
}

// Run executes the full pipeline over every area of interest and
// assembles the final household and person tables in declared area
// order, independent of completion order.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	areas := o.Globals.AreasOfInterest()
	if o.Config.DebugLimitAreas > 0 && o.Config.DebugLimitAreas < len(areas) {
		areas = areas[:o.Config.DebugLimitAreas]
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	phase1, err := o.runPhase1(ctx, cancel, areas)
	if err != nil {
		return nil, err
	}

	selected := make(map[string][]tables.Row, len(phase1))
	report := RunReport{AreaStates: make(map[string]AreaState, len(areas))}
	for _, r := range phase1 {
		report.AreaStates[r.area] = r.state
		if r.convergence != nil {
			report.Convergence = append(report.Convergence, *r.convergence)
		}
		if r.soft != nil {
			report.SoftFailures = append(report.SoftFailures, *r.soft)
			continue
		}
		selected[r.area] = r.rows
	}
	sort.Slice(report.Convergence, func(i, j int) bool {
		return report.Convergence[i].Area < report.Convergence[j].Area
	})

	phase2, err := o.runPhase2(ctx, cancel, areas, selected)
	if err != nil {
		return nil, err
	}

	placed := make(map[string][]placer.Coordinate, len(phase2))
	for _, r := range phase2 {
		report.AreaStates[r.area] = r.state
		if r.soft != nil {
			report.SoftFailures = append(report.SoftFailures, *r.soft)
			continue
		}
		placed[r.area] = r.coord
	}

	return o.assemble(areas, selected, placed, report), nil
}

// runPhase1 fits, integerizes, and selects every area over a
// fixed-width worker pool, returning one result per area (in
// unspecified order — callers resort by declared area order).
func (o *Orchestrator) runPhase1(ctx context.Context, abort context.CancelCauseFunc, areas []string) ([]phase1Result, error) {
	jobs := make(chan string, len(areas))
	for _, a := range areas {
		jobs <- a
	}
	close(jobs)

	results := make([]phase1Result, 0, len(areas))
	var mu sync.Mutex
	var wg sync.WaitGroup

	pool := o.Config.PoolSize
	if pool < 1 {
		pool = 1
	}
	for w := 0; w < pool; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for area := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := o.runArea(area)
				fatal := res.soft != nil && (o.Config.FailFast || isFatalFailure(res.soft))
				if fatal {
					res.state = StateAborted
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if fatal {
					abort(&AbortError{Area: res.soft.Area, Stage: res.soft.Stage, Err: res.soft.Err})
				}
			}
		}()
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return results, nil
}

// runArea fits, integerizes, and selects a single area, classifying
// any error into a soft failure (the caller decides whether that
// triggers an abort under fail_fast, or fatal failures which always
// abort).
func (o *Orchestrator) runArea(area string) phase1Result {
	totals, err := o.Globals.Get(area)
	if err != nil {
		o.recordFailed("prepare")
		return phase1Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "prepare", State: StatePrepared, Err: err}}
	}
	nHouses := totals.Households

	rng := areaRNG(area, o.Config.Seed)
	log := o.Logger.WithArea(area)

	targets, err := fitter.PrepareTargets(o.Schema, o.Marginals, area, nHouses)
	if err != nil {
		o.recordFailed("prepare")
		return phase1Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "prepare", State: StatePrepared, Err: err}}
	}

	fitCfg := fitter.Config{MaxIter: o.Config.MaxIter, RateTolerance: o.Config.RateTolerance, ConvergenceRate: o.Config.ConvergenceRate}
	start := time.Now()
	fitted, report, err := fitter.Fit(o.Schema, o.Joint.CopyDeep(), targets, fitCfg)
	if o.Metrics != nil {
		o.Metrics.FitDuration.Observe(time.Since(start).Seconds())
	}
	conv := &ConvergenceStat{Area: area, Iterations: report.Iterations, Converged: report.Converged}
	if err != nil {
		log.Warn("area did not converge")
		o.recordFailed("fit")
		return phase1Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "fit", State: StateFitted, Err: err}, convergence: conv}
	}
	if report.Empty {
		// No usable constraint for this area: it yields no households,
		// but that is not a failure.
		o.recordProcessed("fit")
		return phase1Result{area: area, state: StateEmitted, rows: nil, convergence: conv}
	}

	cells, _, err := integerize.Integerize(fitted, nHouses, rng)
	if err != nil {
		log.Error("integerize made no progress", err)
		o.recordFailed("integerize")
		return phase1Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "integerize", State: StateIntegerized, Err: err}, convergence: conv}
	}

	params := selector.Params{Alpha: o.Config.Alpha, K: o.Config.K}
	rows, err := selector.Select(o.Schema, cells, o.Micro, params, rng)
	if err != nil {
		log.Warn("degenerate selection row")
		o.recordFailed("select")
		return phase1Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "select", State: StateSelected, Err: err}, convergence: conv}
	}

	o.recordProcessed("select")
	return phase1Result{area: area, state: StateSelected, rows: rows, convergence: conv}
}

// runPhase2 places every area that survived phase 1, over the same
// pool width.
func (o *Orchestrator) runPhase2(ctx context.Context, abort context.CancelCauseFunc, areas []string, selected map[string][]tables.Row) ([]phase2Result, error) {
	type job struct{ area string }
	var toPlace []job
	for _, a := range areas {
		if _, ok := selected[a]; ok {
			toPlace = append(toPlace, job{area: a})
		}
	}

	jobs := make(chan job, len(toPlace))
	for _, j := range toPlace {
		jobs <- j
	}
	close(jobs)

	results := make([]phase2Result, 0, len(toPlace))
	var mu sync.Mutex
	var wg sync.WaitGroup

	pool := o.Config.PoolSize
	if pool < 1 {
		pool = 1
	}
	for w := 0; w < pool; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := o.placeArea(j.area, selected[j.area])
				fatal := res.soft != nil && (o.Config.FailFast || isFatalFailure(res.soft))
				if fatal {
					res.state = StateAborted
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if fatal {
					abort(&AbortError{Area: res.soft.Area, Stage: res.soft.Stage, Err: res.soft.Err})
				}
			}
		}()
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) placeArea(area string, rows []tables.Row) phase2Result {
	if len(rows) == 0 {
		return phase2Result{area: area, state: StateEmitted, coord: nil}
	}
	poly, err := o.Polygons.Get(area)
	if err != nil {
		o.recordFailed("place")
		return phase2Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "place", State: StateSelected, Err: err}}
	}
	rng := areaRNG(area, o.Config.Seed+1)
	coords, err := placer.Place(poly, len(rows), o.Config.MaxRejectsMultiplier, rng)
	if err != nil {
		o.Logger.WithArea(area).Warn("polygon too sparse for placement")
		o.recordFailed("place")
		return phase2Result{area: area, state: StateFailed, soft: &SoftFailure{Area: area, Stage: "place", State: StatePlaced, Err: err}}
	}
	o.recordProcessed("place")
	return phase2Result{area: area, state: StateEmitted, coord: coords}
}

// recordProcessed increments the areas-processed counter for a
// pipeline stage that an area cleared successfully. A nil Metrics
// registry disables all counting, so a run never has to carry one just
// to satisfy this call.
func (o *Orchestrator) recordProcessed(stage string) {
	if o.Metrics != nil {
		o.Metrics.AreasProcessed.WithLabelValues(stage).Inc()
	}
}

// recordFailed increments the areas-failed counter for the stage an
// area dropped out at.
func (o *Orchestrator) recordFailed(stage string) {
	if o.Metrics != nil {
		o.Metrics.AreasFailed.WithLabelValues(stage).Inc()
	}
}

// isFatalFailure reports whether a soft-looking failure is actually a
// fatal error class that must abort regardless of fail_fast:
// IntegerizeError::NoProgress and malformed-input KindErrors.
func isFatalFailure(f *SoftFailure) bool {
	if errors.Is(f.Err, integerize.ErrNoProgress) {
		return true
	}
	var kerr *tables.KindError
	return errors.As(f.Err, &kerr)
}

// assemble builds the final household and person tables in declared
// area order, assigning household serials deterministically by that
// order and by each area's draw order.
func (o *Orchestrator) assemble(areas []string, selected map[string][]tables.Row, placed map[string][]placer.Coordinate, report RunReport) *RunResult {
	sort.Strings(areas)

	var households []HouseholdRecord
	var persons []PersonRecord
	var serial uint64

	for _, area := range areas {
		rows, ok := selected[area]
		if !ok {
			continue
		}
		coords, ok := placed[area]
		if !ok {
			continue
		}
		for i, row := range rows {
			hh := HouseholdRecord{
				HHSerial: serial,
				Area:     area,
				Attrs:    attrsFor(o.Schema, row),
				Lon:      coords[i].Lon,
				Lat:      coords[i].Lat,
			}
			households = append(households, hh)

			for _, personRow := range o.Micro.RowsForHousehold(row.HouseholdID) {
				persons = append(persons, PersonRecord{
					HHSerial:    serial,
					Area:        area,
					PersonAttrs: personRow.PersonAttrs,
				})
			}
			serial++
		}
	}

	return &RunResult{Households: households, Persons: persons, Report: report}
}

func attrsFor(schema tables.Schema, row tables.Row) map[string]int {
	attrs := make(map[string]int, len(schema.Variables))
	for _, v := range schema.Variables {
		attrs[v] = row.Codes[schema.Index(v)]
	}
	return attrs
}
