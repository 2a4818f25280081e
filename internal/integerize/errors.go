package integerize

import "errors"

// ErrNoProgress indicates a total-correction pass made no change to the
// surviving cell sum — a logic bug, not a data problem, since the
// correction loop is supposed to always have somewhere to add or take
// away a unit while the target differs from the current sum.
var ErrNoProgress = errors.New("integerize: total correction made no progress")
