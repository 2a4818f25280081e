package tables

// Row is one microdata sample record: a stable row index, the household
// it belongs to, its k category codes (aligned to the Schema), and any
// extra person-level attributes carried through to output but never
// used for fitting or selection.
type Row struct {
	Index       uint64
	HouseholdID string
	Codes       []int
	PersonAttrs map[string]string
}

// MicroCategorical is the microdata sample's row table: every
// (d1,...,dk) combination present in a MicroJoint is backed by one or
// more rows here, and multiple rows may share a household id (persons
// within a household).
type MicroCategorical struct {
	Schema    Schema
	Rows      []Row
	byTuple   map[string][]int // codes key -> row positions in Rows
	byHouseID map[string][]int // household id -> row positions in Rows
}

// NewMicroCategorical builds a MicroCategorical from rows, indexing them
// by tuple and by household id for O(1) lookups in the selector and the
// orchestrator's person join.
func NewMicroCategorical(schema Schema, rows []Row) *MicroCategorical {
	byTuple := make(map[string][]int)
	byHouse := make(map[string][]int)
	out := make([]Row, len(rows))
	for i, r := range rows {
		codes := append([]int(nil), r.Codes...)
		out[i] = Row{Index: r.Index, HouseholdID: r.HouseholdID, Codes: codes, PersonAttrs: r.PersonAttrs}
		key := codesKey(codes)
		byTuple[key] = append(byTuple[key], i)
		byHouse[r.HouseholdID] = append(byHouse[r.HouseholdID], i)
	}
	return &MicroCategorical{Schema: schema, Rows: out, byTuple: byTuple, byHouseID: byHouse}
}

// RowPositionsForTuple returns the positions in Rows backing the given
// tuple of category codes, in the order they were supplied.
func (m *MicroCategorical) RowPositionsForTuple(codes []int) []int {
	return m.byTuple[codesKey(codes)]
}

// RowsForHousehold returns every row sharing the given household id
// (the persons within that household).
func (m *MicroCategorical) RowsForHousehold(hhID string) []Row {
	positions := m.byHouseID[hhID]
	out := make([]Row, len(positions))
	for i, p := range positions {
		out[i] = m.Rows[p]
	}
	return out
}

// ColumnValues returns the values of variable v across every row, in
// Rows order — used by the selector to compute ordinal ranges.
func (m *MicroCategorical) ColumnValues(variable string) []int {
	idx := m.Schema.Index(variable)
	if idx < 0 {
		return nil
	}
	out := make([]int, len(m.Rows))
	for i, r := range m.Rows {
		out[i] = r.Codes[idx]
	}
	return out
}
