package tables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return NewSchema([]string{"v"}, map[string]VariableMetadata{
		"v": {Name: "v", Kind: Categorical, Domain: []int{1, 2}},
	})
}

func TestGlobalTotalsAreasOfInterest(t *testing.T) {
	g := NewGlobalTotals(map[string]AreaTotals{
		"A": {Population: 100, Households: 40},
		"B": {Population: 0, Households: 10},
		"C": {Population: 10, Households: 0},
	})
	require.Equal(t, []string{"A"}, g.AreasOfInterest())

	_, err := g.Get("Z")
	require.Error(t, err)
	var kerr *KindError
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, "UnknownArea", kerr.Kind)
}

func TestMarginalRejectsUnknownCategory(t *testing.T) {
	schema := testSchema()
	_, err := NewMarginal(schema, "v", map[string]map[int]float64{
		"A": {1: 5, 3: 1},
	})
	require.Error(t, err)
	var kerr *KindError
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, "UnknownCategory", kerr.Kind)
}

func TestMarginalProject(t *testing.T) {
	schema := testSchema()
	m, err := NewMarginal(schema, "v", map[string]map[int]float64{
		"A": {1: 5, 2: 3},
	})
	require.NoError(t, err)

	proj, err := m.Project("A")
	require.NoError(t, err)
	require.Equal(t, map[int]float64{1: 5, 2: 3}, proj)
	require.Equal(t, 8.0, m.Sum("A"))

	// Mutating the returned projection must not affect the table.
	proj[1] = 999
	proj2, _ := m.Project("A")
	require.Equal(t, 5.0, proj2[1])

	_, err = m.Project("missing")
	require.Error(t, err)
}

func TestMicroJointCellsDeterministicOrder(t *testing.T) {
	schema := NewSchema([]string{"v", "w"}, map[string]VariableMetadata{
		"v": {Name: "v", Kind: Ordinal, Domain: []int{1, 2}},
		"w": {Name: "w", Kind: Ordinal, Domain: []int{1, 2}},
	})
	joint := NewMicroJoint(schema, []JointCell{
		{Codes: []int{2, 1}, Weight: 1},
		{Codes: []int{1, 2}, Weight: 2},
		{Codes: []int{1, 1}, Weight: 3},
	})
	cells := joint.Cells()
	require.Len(t, cells, 3)
	require.Equal(t, []int{1, 1}, cells[0].Codes)
	require.Equal(t, []int{1, 2}, cells[1].Codes)
	require.Equal(t, []int{2, 1}, cells[2].Codes)
	require.Equal(t, 6.0, joint.TotalWeight())
}

func TestMicroJointCopyDeepIsIndependent(t *testing.T) {
	schema := testSchema()
	joint := NewMicroJoint(schema, []JointCell{{Codes: []int{1}, Weight: 5}})
	clone := joint.CopyDeep()
	clone.Cells()[0].Weight = 100
	require.Equal(t, 5.0, joint.Cells()[0].Weight)
}

func TestMicroCategoricalIndexing(t *testing.T) {
	schema := testSchema()
	rows := []Row{
		{Index: 0, HouseholdID: "h1", Codes: []int{1}},
		{Index: 1, HouseholdID: "h1", Codes: []int{1}},
		{Index: 2, HouseholdID: "h2", Codes: []int{2}},
	}
	mc := NewMicroCategorical(schema, rows)

	positions := mc.RowPositionsForTuple([]int{1})
	require.Len(t, positions, 2)

	persons := mc.RowsForHousehold("h1")
	require.Len(t, persons, 2)

	require.Equal(t, []int{1, 1, 2}, mc.ColumnValues("v"))
}
