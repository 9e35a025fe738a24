package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// RunLogger owns the log text of a single run. Every Append persists the whole
// buffer, so each call costs O(len(log)); run logs are bounded by one execution.
type RunLogger struct {
	mu    sync.Mutex
	store RunStore
	runID string
	log   string
	now   func() time.Time
}

// LoggerFactory builds the RunLogger bound to a freshly created run.
type LoggerFactory func(store RunStore, run *core.WorkflowRun) *RunLogger

// NewRunLogger returns a logger seeded with the run's persisted log.
func NewRunLogger(store RunStore, run *core.WorkflowRun) *RunLogger {
	return &RunLogger{
		store: store,
		runID: run.ID,
		log:   run.Log,
		now:   time.Now,
	}
}

// Append adds a timestamped line and writes the full log to the run.
// The line stays in the buffer even when the write fails.
func (l *RunLogger) Append(ctx context.Context, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log += core.FormatTime(l.now()) + ": " + line + "\n"
	log := l.log
	if _, err := l.store.UpdateRun(ctx, l.runID, core.RunPatch{Log: &log}); err != nil {
		return core.NewPersistenceError(fmt.Sprintf("persist log of run %s", l.runID), err)
	}
	return nil
}

// Appendf formats and appends a line.
func (l *RunLogger) Appendf(ctx context.Context, format string, args ...any) error {
	return l.Append(ctx, fmt.Sprintf(format, args...))
}

// Log returns the current buffer.
func (l *RunLogger) Log() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.log
}

// FinalPatch merges the caller's terminal fields with the current log.
func (l *RunLogger) FinalPatch(patch core.RunPatch) core.RunPatch {
	log := l.Log()
	patch.Log = &log
	return patch
}
