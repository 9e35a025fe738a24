package workflow

import (
	"fmt"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// SingleWorkflowRun admits a candidate only when it is the sole candidate and no
// run of the workflow is RUNNING. On admission the candidate is marked RUNNING.
func SingleWorkflowRun(candidate *core.WorkflowRun, candidates, running []*core.WorkflowRun) Admission {
	if len(candidates) > 1 {
		return Admission{ErrorMessage: fmt.Sprintf("only one run may be admitted at a time, got %d candidates", len(candidates))}
	}
	if len(running) > 0 {
		return Admission{ErrorMessage: fmt.Sprintf("workflow already has a running run: %s", running[0].ID)}
	}
	if candidate != nil {
		candidate.State = core.StateRunning
	}
	return Admission{}
}
