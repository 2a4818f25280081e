package orchestrator

import "fmt"

// SoftFailure records one area's non-fatal drop from the run: its last
// reached state, the stage that failed, and the underlying error.
type SoftFailure struct {
	Area  string
	Stage string
	State AreaState
	Err   error
}

func (f SoftFailure) String() string {
	return fmt.Sprintf("area=%s stage=%s state=%s err=%v", f.Area, f.Stage, f.State, f.Err)
}

// AbortError wraps the fatal error that triggered a run-wide abort,
// with the area and stage it originated from.
type AbortError struct {
	Area  string
	Stage string
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("orchestrator: aborted at area=%s stage=%s: %v", e.Area, e.Stage, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}
