package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

func TestHost_OnScheduleRegistersDistinctIDs(t *testing.T) {
	s := New(quietLogger())
	defer s.StopAll(context.Background())
	h := NewHost(s, quietLogger())

	noop := func(context.Context) error { return nil }
	if err := h.OnSchedule("@hourly", noop); err != nil {
		t.Fatalf("OnSchedule: %v", err)
	}
	if err := h.OnSchedule("@hourly", noop); err != nil {
		t.Fatalf("OnSchedule again: %v", err)
	}
	if n := len(s.Entries()); n != 2 {
		t.Errorf("entries = %d, want 2", n)
	}

	if err := h.OnSchedule("nope", noop); !core.HasCode(err, core.ErrCodeValidationError) {
		t.Errorf("expected validation_error for bad expression, got %v", err)
	}
}

func TestHost_InitRunsAllHooks(t *testing.T) {
	h := NewHost(New(quietLogger()), quietLogger())

	var order []int
	h.OnInit(func(context.Context) error { order = append(order, 1); return nil })
	h.OnInit(func(context.Context) error { order = append(order, 2); return errors.New("second failed") })
	h.OnInit(func(context.Context) error { order = append(order, 3); return nil })

	err := h.Init(context.Background())
	if err == nil {
		t.Fatal("expected joined error from failing hook")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("hook order = %v, want [1 2 3]", order)
	}
}

func TestHost_EmitAndPublishRunEvent(t *testing.T) {
	h := NewHost(New(quietLogger()), quietLogger())

	var got []*core.RunEvent
	h.OnAction(core.EventRunFinished, func(_ context.Context, payload any) error {
		ev, ok := payload.(*core.RunEvent)
		if !ok {
			t.Fatalf("payload type = %T", payload)
		}
		got = append(got, ev)
		return nil
	})

	if err := h.PublishRunEvent(&core.RunEvent{Type: core.EventRunStarted, WorkflowID: "wf"}); err != nil {
		t.Fatalf("publish started: %v", err)
	}
	if err := h.PublishRunEvent(&core.RunEvent{Type: core.EventRunFinished, WorkflowID: "wf", State: core.StateSuccess}); err != nil {
		t.Fatalf("publish finished: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].State != core.StateSuccess {
		t.Errorf("state = %s, want SUCCESS", got[0].State)
	}
}

func TestHost_EmitJoinsErrors(t *testing.T) {
	h := NewHost(New(quietLogger()), quietLogger())
	calls := 0
	h.OnAction("x", func(context.Context, any) error { calls++; return errors.New("a") })
	h.OnAction("x", func(context.Context, any) error { calls++; return nil })

	if err := h.Emit(context.Background(), "x", nil); err == nil {
		t.Error("expected error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if err := h.Emit(context.Background(), "unknown", nil); err != nil {
		t.Errorf("emit with no subscribers: %v", err)
	}
}
