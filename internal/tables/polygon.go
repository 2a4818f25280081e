package tables

import "github.com/ctessum/geom"

// Polygons indexes a possibly-multipart WGS 84 polygon per small area.
// geom.Polygonal covers both geom.Polygon (single part) and
// geom.MultiPolygon (multipart), matching the data model's "possibly
// multipart polygon" requirement without a bespoke union type.
type Polygons struct {
	byArea map[string]geom.Polygonal
}

// NewPolygons builds a Polygons table from per-area geometry.
func NewPolygons(rows map[string]geom.Polygonal) *Polygons {
	byArea := make(map[string]geom.Polygonal, len(rows))
	for k, v := range rows {
		byArea[k] = v
	}
	return &Polygons{byArea: byArea}
}

// Get returns the polygon for area g, or ErrUnknownArea.
func (p *Polygons) Get(area string) (geom.Polygonal, error) {
	poly, ok := p.byArea[area]
	if !ok {
		return nil, ErrUnknownArea(area)
	}
	return poly, nil
}

// Bounds returns the axis-aligned bounding box of area g's polygon.
func (p *Polygons) Bounds(area string) (*geom.Bounds, error) {
	poly, err := p.Get(area)
	if err != nil {
		return nil, err
	}
	return poly.Bounds(), nil
}
