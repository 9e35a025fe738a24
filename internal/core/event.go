package core

import "time"

// Run lifecycle event types.
const (
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
	EventRunRejected = "run.rejected"
)

// RunEvent is published when a workflow run changes lifecycle state.
type RunEvent struct {
	Type       string    `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id,omitempty"`
	State      RunState  `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}
