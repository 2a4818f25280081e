package tables

import (
	"sort"
	"strconv"
	"strings"
)

// JointCell is one row of the microdata joint frequency table: a k-tuple
// of category codes aligned to a Schema's variable order, with a
// nonnegative real weight.
type JointCell struct {
	Codes  []int
	Weight float64
}

func codesKey(codes []int) string {
	var b strings.Builder
	for i, c := range codes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(c))
	}
	return b.String()
}

// MicroJoint is the empirical joint distribution of the fitting
// variables from the microdata sample, one weight per unique tuple.
type MicroJoint struct {
	Schema Schema
	cells  map[string]*JointCell
}

// NewMicroJoint builds a MicroJoint from a set of (codes, weight) rows.
// Duplicate tuples are rejected by the caller's data contract (spec:
// "each tuple is unique"); NewMicroJoint trusts that and simply
// overwrites, matching map-construction semantics elsewhere in the
// package.
func NewMicroJoint(schema Schema, rows []JointCell) *MicroJoint {
	cells := make(map[string]*JointCell, len(rows))
	for _, r := range rows {
		codes := append([]int(nil), r.Codes...)
		cells[codesKey(codes)] = &JointCell{Codes: codes, Weight: r.Weight}
	}
	return &MicroJoint{Schema: schema, cells: cells}
}

// CopyDeep yields an independent mutable clone: per-area fitting workers
// mutate their own copy of the joint table without racing each other.
func (j *MicroJoint) CopyDeep() *MicroJoint {
	cells := make(map[string]*JointCell, len(j.cells))
	for k, c := range j.cells {
		cells[k] = &JointCell{Codes: append([]int(nil), c.Codes...), Weight: c.Weight}
	}
	return &MicroJoint{Schema: j.Schema, cells: cells}
}

// Cells enumerates (tuple, weight) pairs in deterministic lexicographic
// order on the tuple, satisfying the spec's determinism requirement.
func (j *MicroJoint) Cells() []*JointCell {
	out := make([]*JointCell, 0, len(j.cells))
	for _, c := range j.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		ca, cb := out[a].Codes, out[b].Codes
		for i := 0; i < len(ca) && i < len(cb); i++ {
			if ca[i] != cb[i] {
				return ca[i] < cb[i]
			}
		}
		return len(ca) < len(cb)
	})
	return out
}

// TotalWeight returns Σ_d weight across all cells.
func (j *MicroJoint) TotalWeight() float64 {
	var total float64
	for _, c := range j.cells {
		total += c.Weight
	}
	return total
}

// Len returns the number of cells in the table.
func (j *MicroJoint) Len() int {
	return len(j.cells)
}
