package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// runState is the JSON-serializable state stored in NATS KV for each run.
// Timestamps are kept in the wire format of core.FormatTime.
type runState struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow"`
	State      string         `json:"state"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Log        string         `json:"log,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// runToState converts a core.WorkflowRun to a runState for KV storage.
func runToState(run *core.WorkflowRun) *runState {
	s := &runState{
		ID:         run.ID,
		WorkflowID: run.WorkflowID,
		State:      string(run.State),
		StartedAt:  core.FormatTime(run.StartedAt),
		Log:        run.Log,
		Result:     run.Result,
	}
	if run.FinishedAt != nil {
		s.FinishedAt = core.FormatTime(*run.FinishedAt)
	}
	return s
}

// stateToRun converts a runState from KV back to a core.WorkflowRun.
func stateToRun(s *runState) (*core.WorkflowRun, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, s.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("run %s: started_at: %w", s.ID, err)
	}
	run := &core.WorkflowRun{
		ID:         s.ID,
		WorkflowID: s.WorkflowID,
		State:      core.RunState(s.State),
		StartedAt:  startedAt,
		Log:        s.Log,
		Result:     s.Result,
	}
	if s.FinishedAt != "" {
		finishedAt, err := time.Parse(time.RFC3339Nano, s.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("run %s: finished_at: %w", s.ID, err)
		}
		run.FinishedAt = &finishedAt
	}
	return run, nil
}

// marshalRunState serializes run state to JSON for KV storage.
func marshalRunState(run *core.WorkflowRun) ([]byte, error) {
	return json.Marshal(runToState(run))
}

// unmarshalRunState deserializes run state from KV JSON.
func unmarshalRunState(data []byte) (*core.WorkflowRun, error) {
	var s runState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return stateToRun(&s)
}
