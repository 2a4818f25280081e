// Package selector draws concrete microdata rows for each integerized
// joint cell, weighted by how closely a row's category values resemble
// the cell's, so households physically similar to the target tuple are
// preferred without excluding the rest.
package selector

import (
	"math"
	"math/rand"

	"github.com/colasanti-lab/popsynth/internal/integerize"
	"github.com/colasanti-lab/popsynth/internal/tables"
)

// Params holds the distance kernel's tuning scalars (spec §6's alpha
// and k).
type Params struct {
	Alpha float64
	K     float64
}

// ordinalRange returns max(values) - min(values), or 0 if values is
// empty or has a single distinct value.
func ordinalRange(values []int) int {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func ordinalFactor(rowVal, cellVal, r int, k float64) float64 {
	if r == 0 {
		return 1
	}
	return 1 - math.Pow(math.Abs(float64(rowVal-cellVal))/float64(r), k)
}

func categoricalFactor(rowVal, cellVal int, alpha float64) float64 {
	if rowVal == cellVal {
		return alpha
	}
	return 1 - alpha
}

// BuildAffinity computes the (n_cells x n_rows) distance-affinity
// matrix D for one area: row i is cell i's affinity to every
// microdata row, before normalization.
func BuildAffinity(schema tables.Schema, cells []integerize.Cell, micro *tables.MicroCategorical, params Params) [][]float64 {
	n := len(micro.Rows)
	d := make([][]float64, len(cells))
	for i := range d {
		row := make([]float64, n)
		for j := range row {
			row[j] = 1
		}
		d[i] = row
	}

	ranges := make(map[string]int, len(schema.Variables))
	for _, v := range schema.Variables {
		meta, _ := schema.Metadata(v)
		if meta.Kind == tables.Ordinal {
			ranges[v] = ordinalRange(micro.ColumnValues(v))
		}
	}

	for _, v := range schema.Variables {
		idx := schema.Index(v)
		meta, _ := schema.Metadata(v)
		r := ranges[v]
		for i, cell := range cells {
			cellVal := cell.Codes[idx]
			row := d[i]
			for j, micRow := range micro.Rows {
				rowVal := micRow.Codes[idx]
				var factor float64
				if meta.Kind == tables.Ordinal {
					factor = ordinalFactor(rowVal, cellVal, r, params.K)
				} else {
					factor = categoricalFactor(rowVal, cellVal, params.Alpha)
				}
				row[j] *= factor
			}
		}
	}
	return d
}

// Select draws, for every integerized cell, Count microdata rows with
// replacement weighted by the cell's normalized affinity row, and
// concatenates the draws in cell order. It returns ErrDegenerateRow if
// any cell's affinity row sums to zero.
func Select(schema tables.Schema, cells []integerize.Cell, micro *tables.MicroCategorical, params Params, rng *rand.Rand) ([]tables.Row, error) {
	if len(micro.Rows) == 0 {
		return nil, ErrDegenerateRow
	}
	affinity := BuildAffinity(schema, cells, micro, params)

	selected := make([]tables.Row, 0)
	for i, cell := range cells {
		row := affinity[i]
		var sum float64
		for _, v := range row {
			sum += v
		}
		if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, ErrDegenerateRow
		}

		cumulative := make([]float64, len(row))
		var running float64
		for j, v := range row {
			running += v / sum
			cumulative[j] = running
		}
		// Guard against floating point drift leaving the last bucket
		// short of 1.0.
		cumulative[len(cumulative)-1] = 1

		for k := 0; k < cell.Count; k++ {
			u := rng.Float64()
			idx := sampleCumulative(cumulative, u)
			selected = append(selected, micro.Rows[idx])
		}
	}
	return selected, nil
}

func sampleCumulative(cumulative []float64, u float64) int {
	lo, hi := 0, len(cumulative)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cumulative[mid] < u {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
