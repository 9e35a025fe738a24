package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/memory"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

// faultyStore wraps the memory store and lets tests override single operations.
type faultyStore struct {
	*memory.Store
	listRunsFunc  func(ctx context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error)
	createRunFunc func(ctx context.Context, run *core.WorkflowRun) error
	updateRunFunc func(ctx context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error)
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.New()}
}

func (s *faultyStore) ListRuns(ctx context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error) {
	if s.listRunsFunc != nil {
		return s.listRunsFunc(ctx, filter)
	}
	return s.Store.ListRuns(ctx, filter)
}

func (s *faultyStore) CreateRun(ctx context.Context, run *core.WorkflowRun) error {
	if s.createRunFunc != nil {
		return s.createRunFunc(ctx, run)
	}
	return s.Store.CreateRun(ctx, run)
}

func (s *faultyStore) UpdateRun(ctx context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error) {
	if s.updateRunFunc != nil {
		return s.updateRunFunc(ctx, id, patch)
	}
	return s.Store.UpdateRun(ctx, id, patch)
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.RunEvent
}

func (p *recordingPublisher) PublishRunEvent(event *core.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func mustRegister(t *testing.T, r *workflow.Registry, job workflow.Job) {
	t.Helper()
	if err := r.Register(job); err != nil {
		t.Fatalf("Register(%s) error = %v", job.WorkflowID(), err)
	}
}

func countRuns(t *testing.T, store workflow.RunStore, workflowID string, state core.RunState) int {
	t.Helper()
	n, err := store.CountRuns(context.Background(), core.RunFilter{WorkflowID: workflowID, State: state})
	if err != nil {
		t.Fatalf("CountRuns() error = %v", err)
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
