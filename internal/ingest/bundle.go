// Package ingest loads a self-contained JSON input bundle into the
// core's table types. It is a thin wiring harness for the CLI, not the
// raw-data ingestion system spec §1 excludes: it assumes its caller
// already normalized raw census/PUMS extracts into this bundle's shape,
// the way the teacher's loadConstraints/loadMicrodata read pre-shaped
// CSVs rather than raw survey dumps.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ctessum/geom"

	"github.com/colasanti-lab/popsynth/internal/tables"
)

// VariableSpec describes one fitting variable's kind and domain.
type VariableSpec struct {
	Kind   string `json:"kind"` // "ordinal" | "categorical"
	Domain []int  `json:"domain"`
}

// AreaSpec is one area's global totals.
type AreaSpec struct {
	Population float64 `json:"population"`
	Households float64 `json:"households"`
}

// RowSpec is one microdata sample row.
type RowSpec struct {
	HouseholdID string            `json:"householdId"`
	Codes       map[string]int    `json:"codes"`
	PersonAttrs map[string]string `json:"personAttrs,omitempty"`
}

// JointCellSpec is one microdata joint frequency cell.
type JointCellSpec struct {
	Codes  map[string]int `json:"codes"`
	Weight float64        `json:"weight"`
}

// Bundle is the full self-contained input document: variable
// metadata, area totals, per-variable marginals, the joint frequency
// table, categorical sample rows, and per-area polygons.
type Bundle struct {
	Variables map[string]VariableSpec          `json:"variables"`
	Order     []string                         `json:"order"`
	Areas     map[string]AreaSpec              `json:"areas"`
	Marginals map[string]map[string]map[string]float64 `json:"marginals"` // variable -> area -> category string -> total
	Joint     []JointCellSpec                  `json:"jointCells"`
	Rows      []RowSpec                        `json:"microRows"`
	Polygons  map[string][][][2]float64        `json:"polygons"` // area -> rings -> [lon,lat] points
}

// Load reads a Bundle from a JSON file at path.
func Load(path string) (*Bundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening %s: %w", path, err)
	}
	defer file.Close()

	var b Bundle
	if err := json.NewDecoder(file).Decode(&b); err != nil {
		return nil, fmt.Errorf("ingest: decoding %s: %w", path, err)
	}
	return &b, nil
}

// Built holds every table the orchestrator needs, assembled from a
// Bundle.
type Built struct {
	Schema    tables.Schema
	Globals   *tables.GlobalTotals
	Marginals *tables.MarginalSet
	Joint     *tables.MicroJoint
	Micro     *tables.MicroCategorical
	Polygons  *tables.Polygons
}

// Build converts the bundle's loosely-typed JSON shape into the core's
// table types, validating along the way.
func (b *Bundle) Build() (*Built, error) {
	metaByName := make(map[string]tables.VariableMetadata, len(b.Variables))
	for name, v := range b.Variables {
		kind := tables.Categorical
		if v.Kind == "ordinal" {
			kind = tables.Ordinal
		}
		metaByName[name] = tables.VariableMetadata{Name: name, Kind: kind, Domain: v.Domain}
	}
	schema := tables.NewSchema(b.Order, metaByName)

	areaTotals := make(map[string]tables.AreaTotals, len(b.Areas))
	for area, a := range b.Areas {
		areaTotals[area] = tables.AreaTotals{Population: a.Population, Households: a.Households}
	}
	globals := tables.NewGlobalTotals(areaTotals)

	marginalByVar := make(map[string]*tables.Marginal, len(b.Marginals))
	for variable, byArea := range b.Marginals {
		rows := make(map[string]map[int]float64, len(byArea))
		for area, byCategory := range byArea {
			cats := make(map[int]float64, len(byCategory))
			for catStr, total := range byCategory {
				cat, err := strconv.Atoi(catStr)
				if err != nil {
					return nil, fmt.Errorf("ingest: marginal category %q for %s/%s is not an integer", catStr, variable, area)
				}
				cats[cat] = total
			}
			rows[area] = cats
		}
		m, err := tables.NewMarginal(schema, variable, rows)
		if err != nil {
			return nil, fmt.Errorf("ingest: building marginal %s: %w", variable, err)
		}
		marginalByVar[variable] = m
	}
	marginals := tables.NewMarginalSet(schema, marginalByVar)

	cells := make([]tables.JointCell, len(b.Joint))
	for i, jc := range b.Joint {
		codes, err := codesFor(schema, jc.Codes)
		if err != nil {
			return nil, err
		}
		cells[i] = tables.JointCell{Codes: codes, Weight: jc.Weight}
	}
	joint := tables.NewMicroJoint(schema, cells)

	rows := make([]tables.Row, len(b.Rows))
	for i, r := range b.Rows {
		codes, err := codesFor(schema, r.Codes)
		if err != nil {
			return nil, err
		}
		rows[i] = tables.Row{Index: uint64(i), HouseholdID: r.HouseholdID, Codes: codes, PersonAttrs: r.PersonAttrs}
	}
	micro := tables.NewMicroCategorical(schema, rows)

	polyByArea := make(map[string]geom.Polygonal, len(b.Polygons))
	for area, rings := range b.Polygons {
		poly := make(geom.Polygon, len(rings))
		for i, ring := range rings {
			pts := make([]geom.Point, len(ring))
			for j, xy := range ring {
				pts[j] = geom.Point{X: xy[0], Y: xy[1]}
			}
			poly[i] = pts
		}
		polyByArea[area] = poly
	}
	polygons := tables.NewPolygons(polyByArea)

	return &Built{Schema: schema, Globals: globals, Marginals: marginals, Joint: joint, Micro: micro, Polygons: polygons}, nil
}

func codesFor(schema tables.Schema, byName map[string]int) ([]int, error) {
	codes := make([]int, len(schema.Variables))
	for i, v := range schema.Variables {
		c, ok := byName[v]
		if !ok {
			return nil, fmt.Errorf("ingest: row missing code for variable %q", v)
		}
		codes[i] = c
	}
	return codes, nil
}
