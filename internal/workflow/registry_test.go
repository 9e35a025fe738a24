package workflow_test

import (
	"context"
	"testing"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

func noop(context.Context, *workflow.RunContext) (core.RunPatch, error) {
	return workflow.Succeeded(nil), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := workflow.NewRegistry()
	job := workflow.NewFuncJob("food-sync", noop)

	if err := r.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	got, ok := r.Get("food-sync")
	if !ok || got != job {
		t.Fatalf("Get(food-sync) = %v, %v; want registered job", got, ok)
	}
	if _, ok := r.Get("unknown"); ok {
		t.Fatal("Get(unknown) ok = true, want false")
	}
}

func TestRegistry_DuplicateKeepsFirst(t *testing.T) {
	r := workflow.NewRegistry()
	first := workflow.NewFuncJob("news-sync", noop)
	second := workflow.NewFuncJob("news-sync", noop)

	mustRegister(t, r, first)
	err := r.Register(second)
	if !core.HasCode(err, core.ErrCodeDuplicateRegistration) {
		t.Fatalf("Register(duplicate) error = %v, want duplicate_registration", err)
	}
	if got, _ := r.Get("news-sync"); got != first {
		t.Fatal("duplicate registration replaced the original job")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_RejectsEmptyID(t *testing.T) {
	r := workflow.NewRegistry()
	if err := r.Register(workflow.NewFuncJob("", noop)); !core.HasCode(err, core.ErrCodeValidationError) {
		t.Fatalf("Register(empty id) error = %v, want validation_error", err)
	}
	if err := r.Register(nil); err == nil {
		t.Fatal("Register(nil) error = nil, want error")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := workflow.NewRegistry()
	for _, id := range []string{"washingmachines-parse", "cashregister-parse", "food-sync"} {
		mustRegister(t, r, workflow.NewFuncJob(id, noop))
	}

	jobs := r.List()
	want := []string{"cashregister-parse", "food-sync", "washingmachines-parse"}
	if len(jobs) != len(want) {
		t.Fatalf("List() returned %d jobs, want %d", len(jobs), len(want))
	}
	for i, job := range jobs {
		if job.WorkflowID() != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, job.WorkflowID(), want[i])
		}
	}
}

func TestBase_Retention(t *testing.T) {
	b := workflow.NewBase("utilization-canteen-calculation",
		workflow.WithDeleteFinishedAfterDays(7),
		workflow.WithDeleteFailedAfterDays(-1),
	)
	if days, ok := b.DeleteFinishedRunsAfterDays(); !ok || days != 7 {
		t.Errorf("DeleteFinishedRunsAfterDays() = %d, %v; want 7, true", days, ok)
	}
	if _, ok := b.DeleteFailedRunsAfterDays(); ok {
		t.Error("DeleteFailedRunsAfterDays() ok = true for negative days, want false")
	}
}
