package orchestrator

// HouseholdRecord is one synthesized household: its serial number, the
// area it was placed in, its category attributes keyed by variable
// name, and its placed coordinate.
type HouseholdRecord struct {
	HHSerial uint64
	Area     string
	Attrs    map[string]int
	Lon      float64
	Lat      float64
}

// PersonRecord is one synthesized person, joined from the drawn
// microdata row's household id to every person sharing that household
// in the sample, and re-keyed under the new synthetic household
// serial.
type PersonRecord struct {
	HHSerial    uint64
	Area        string
	PersonAttrs map[string]string
}

// ConvergenceStat records one area's fit outcome for the optional
// convergence chart a caller may render with
// diagnostics.ConvergenceChart (mirrored here rather than imported
// directly, so the orchestrator doesn't take on a plotting dependency
// just to report a sweep count).
type ConvergenceStat struct {
	Area       string
	Iterations int
	Converged  bool
}

// RunReport summarizes every area that did not reach Emitted, plus a
// per-area fit convergence trace and each area's final pipeline state.
type RunReport struct {
	SoftFailures []SoftFailure
	Convergence  []ConvergenceStat
	AreaStates   map[string]AreaState
}

// RunResult is the orchestrator's full output: the assembled household
// and person tables plus the failure report.
type RunResult struct {
	Households []HouseholdRecord
	Persons    []PersonRecord
	Report     RunReport
}
