// Package placer assigns a concrete WGS 84 coordinate to each selected
// household by rejection sampling inside its area's polygon.
package placer

import (
	"math/rand"

	"github.com/ctessum/geom"
)

// MaxRejectsMultiplier is the spec's default budget factor: the
// sampler gives up after 1000*m rejected trials for m requested
// points.
const MaxRejectsMultiplier = 1000

// Coordinate is a placed household location.
type Coordinate struct {
	Lon float64
	Lat float64
}

// Place draws m coordinates uniformly inside poly's bounding box,
// accepting only points the polygon contains (boundary inclusive), in
// the order they're accepted. It fails with ErrPolygonTooSparse after
// multiplier*m rejected trials without reaching m acceptances.
func Place(poly geom.Polygonal, m int, multiplier int, rng *rand.Rand) ([]Coordinate, error) {
	if m == 0 {
		return nil, nil
	}
	bounds := poly.Bounds()
	maxRejects := multiplier * m

	out := make([]Coordinate, 0, m)
	rejects := 0
	for len(out) < m {
		x := bounds.Min.X + rng.Float64()*(bounds.Max.X-bounds.Min.X)
		y := bounds.Min.Y + rng.Float64()*(bounds.Max.Y-bounds.Min.Y)
		p := geom.Point{X: x, Y: y}
		status := p.Within(poly)
		if status == geom.Outside {
			rejects++
			if rejects > maxRejects {
				return nil, ErrPolygonTooSparse
			}
			continue
		}
		out = append(out, Coordinate{Lon: x, Lat: y})
	}
	return out, nil
}
