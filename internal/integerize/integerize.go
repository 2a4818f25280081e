// Package integerize converts a fitted real-valued joint table into an
// integer household count per cell whose sum exactly equals an area's
// rounded household total, except when every cell rounds to zero and
// the table has fewer cells than that total (see collapseToLargest).
package integerize

import (
	"math"
	"math/rand"

	"github.com/colasanti-lab/popsynth/internal/tables"
)

// Cell is one integerized joint cell: the category tuple and its
// surviving household count. Cells whose count reaches zero are
// dropped from the result entirely.
type Cell struct {
	Codes []int
	Count int
}

// Report records how many whole-unit corrections step 2 needed, for
// diagnostics.
type Report struct {
	Corrections int
}

// Integerize runs the two-step stochastic rounding procedure over a
// fitted joint table's cells for one area, targeting nHouses total
// households. rng must be a per-area random source so the outcome is
// reproducible independent of worker-pool scheduling.
func Integerize(joint *tables.MicroJoint, nHouses float64, rng *rand.Rand) ([]Cell, Report, error) {
	target := int(math.Round(nHouses))
	cells := joint.Cells()

	survivors := make([]Cell, 0, len(cells))
	originals := make([]float64, 0, len(cells))
	var sum int

	for _, c := range cells {
		x := c.Weight
		frac := x - math.Floor(x)
		var rounded int
		if rng.Float64() < frac {
			rounded = int(math.Ceil(x))
		} else {
			rounded = int(math.Floor(x))
		}
		if rounded == 0 {
			continue
		}
		survivors = append(survivors, Cell{Codes: append([]int(nil), c.Codes...), Count: rounded})
		originals = append(originals, x)
		sum += rounded
	}

	if sum == 0 {
		return collapseToLargest(cells, target), Report{}, nil
	}

	report := Report{}
	previousSum := math.MinInt64
	for sum < target {
		if sum == previousSum {
			return nil, report, ErrNoProgress
		}
		previousSum = sum
		i := rng.Intn(len(survivors))
		survivors[i].Count++
		sum++
		report.Corrections++
	}
	for sum > target {
		if sum == previousSum {
			return nil, report, ErrNoProgress
		}
		previousSum = sum
		i := rng.Intn(len(survivors))
		survivors[i].Count--
		sum--
		report.Corrections++
		if survivors[i].Count == 0 {
			survivors = append(survivors[:i], survivors[i+1:]...)
		}
	}

	out := make([]Cell, 0, len(survivors))
	for _, c := range survivors {
		if c.Count != 0 {
			out = append(out, c)
		}
	}
	return out, report, nil
}

// collapseToLargest handles the degenerate case where stochastic
// rounding zeroed every cell: assign 1 household to each of the
// target highest-weight original cells, matching the area's total
// exactly even when every real weight was below 0.5. When the table has
// fewer cells than target, every cell gets 1 and the total is the cell
// count.
func collapseToLargest(cells []*tables.JointCell, target int) []Cell {
	ranked := append([]*tables.JointCell(nil), cells...)
	// Stable highest-weight-first order; ties keep the table's
	// deterministic cell order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Weight > ranked[j-1].Weight; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	n := target
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]Cell, n)
	for i := 0; i < n; i++ {
		out[i] = Cell{Codes: append([]int(nil), ranked[i].Codes...), Count: 1}
	}
	return out
}
