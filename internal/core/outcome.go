package core

import "fmt"

// OutcomeKind discriminates how a job body ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// State returns the terminal run state for k.
func (k OutcomeKind) State() RunState {
	switch k {
	case OutcomeSuccess:
		return StateSuccess
	case OutcomeSkipped:
		return StateSkipped
	}
	return StateFailed
}

// Outcome is the result of a job body: the kind, the patch the job returned,
// and the error when the body failed.
type Outcome struct {
	Kind  OutcomeKind
	Patch RunPatch
	Err   error
}

// OutcomeOf maps the (patch, error) pair returned by a job body to an Outcome.
// A returned error, or a patch without a terminal state, is a failure.
func OutcomeOf(patch RunPatch, err error) Outcome {
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Patch: patch, Err: err}
	}
	switch patch.State {
	case StateSuccess:
		return Outcome{Kind: OutcomeSuccess, Patch: patch}
	case StateSkipped:
		return Outcome{Kind: OutcomeSkipped, Patch: patch}
	case StateFailed:
		return Outcome{Kind: OutcomeFailed, Patch: patch}
	}
	return Outcome{
		Kind:  OutcomeFailed,
		Patch: patch,
		Err:   fmt.Errorf("job returned non-terminal state %q", patch.State),
	}
}
