package placer

import "errors"

// ErrPolygonTooSparse indicates the rejection sampler exhausted its
// trial budget (max_rejects = multiplier*m) before accepting m points — the
// polygon is too small relative to its bounding box, or degenerate.
var ErrPolygonTooSparse = errors.New("placer: polygon too sparse for rejection sampling")
