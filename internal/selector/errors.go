package selector

import "errors"

// ErrDegenerateRow indicates a cell's distance-affinity row summed to
// zero, so no microdata row has positive probability of being drawn
// for it. It is a per-area soft failure: the caller skips the area.
var ErrDegenerateRow = errors.New("selector: degenerate probability row")
