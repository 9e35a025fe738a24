package core

import (
	"sort"
	"time"
)

// RunState is the lifecycle state of a WorkflowRun.
type RunState string

// Run states. RUNNING is the only non-terminal state.
const (
	StateRunning RunState = "RUNNING"
	StateSuccess RunState = "SUCCESS"
	StateFailed  RunState = "FAILED"
	StateSkipped RunState = "SKIPPED"
)

// IsTerminalState reports whether no further transition can happen from s.
func IsTerminalState(s RunState) bool {
	switch s {
	case StateSuccess, StateFailed, StateSkipped:
		return true
	}
	return false
}

// IsValidState reports whether s is one of the known run states.
func IsValidState(s RunState) bool {
	return s == StateRunning || IsTerminalState(s)
}

// WorkflowRun is one persisted execution attempt of a workflow.
type WorkflowRun struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow"`
	State      RunState       `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Log        string         `json:"log"`
	Result     map[string]any `json:"result,omitempty"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	out := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	if r.Result != nil {
		out.Result = make(map[string]any, len(r.Result))
		for k, v := range r.Result {
			out.Result[k] = v
		}
	}
	return &out
}

// Apply writes the non-empty fields of p onto r.
func (r *WorkflowRun) Apply(p RunPatch) {
	if p.State != "" {
		r.State = p.State
	}
	if p.Log != nil {
		r.Log = *p.Log
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		r.FinishedAt = &t
	}
	if len(p.Result) > 0 {
		if r.Result == nil {
			r.Result = make(map[string]any, len(p.Result))
		}
		for k, v := range p.Result {
			r.Result[k] = v
		}
	}
}

// RunPatch is a partial update of a WorkflowRun. Zero-valued fields are left untouched;
// Result entries are merged key by key.
type RunPatch struct {
	State      RunState       `json:"state,omitempty"`
	Log        *string        `json:"log,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// RunFilter selects runs. Empty fields match everything.
type RunFilter struct {
	WorkflowID string
	State      RunState
	Limit      int
	Offset     int
}

// Matches reports whether run satisfies the workflow and state constraints of f.
// Limit and Offset are applied by the caller.
func (f RunFilter) Matches(run *WorkflowRun) bool {
	if f.WorkflowID != "" && run.WorkflowID != f.WorkflowID {
		return false
	}
	if f.State != "" && run.State != f.State {
		return false
	}
	return true
}

// Page applies Offset and Limit to runs, which must already be sorted.
func (f RunFilter) Page(runs []*WorkflowRun) []*WorkflowRun {
	if f.Offset >= len(runs) {
		return []*WorkflowRun{}
	}
	runs = runs[f.Offset:]
	if f.Limit > 0 && f.Limit < len(runs) {
		runs = runs[:f.Limit]
	}
	return runs
}

// SortNewestFirst orders runs by StartedAt descending, breaking ties by ID
// descending so the order is stable across stores.
func SortNewestFirst(runs []*WorkflowRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
