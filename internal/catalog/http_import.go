package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

var _ workflow.Job = (*HTTPImport)(nil)

// HTTPImport is a workflow that fetches a URL. A 2xx response succeeds with the
// status and body size as result, 204 means there was nothing to import and
// the run is skipped, and any other status fails the run.
type HTTPImport struct {
	workflow.Base
	entry  Entry
	client *http.Client
}

// NewHTTPImport creates the job for e. A nil client uses http.DefaultClient.
func NewHTTPImport(e Entry, client *http.Client) *HTTPImport {
	if client == nil {
		client = http.DefaultClient
	}
	var opts []workflow.BaseOption
	if e.DeleteFinishedAfterDays != nil {
		opts = append(opts, workflow.WithDeleteFinishedAfterDays(*e.DeleteFinishedAfterDays))
	}
	if e.DeleteFailedAfterDays != nil {
		opts = append(opts, workflow.WithDeleteFailedAfterDays(*e.DeleteFailedAfterDays))
	}
	return &HTTPImport{
		Base:   workflow.NewBase(e.ID, opts...),
		entry:  e,
		client: client,
	}
}

// Entry returns the catalog entry the job was built from.
func (j *HTTPImport) Entry() Entry { return j.entry }

func (j *HTTPImport) Run(ctx context.Context, rc *workflow.RunContext) (core.RunPatch, error) {
	ctx, cancel := context.WithTimeout(ctx, j.entry.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, j.entry.Method, j.entry.URL, nil)
	if err != nil {
		return core.RunPatch{}, fmt.Errorf("building request: %w", err)
	}
	for k, v := range j.entry.Headers {
		req.Header.Set(k, v)
	}

	j.logf(ctx, rc, "%s %s", j.entry.Method, j.entry.URL)
	resp, err := j.client.Do(req)
	if err != nil {
		return core.RunPatch{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return core.RunPatch{}, fmt.Errorf("reading response: %w", err)
	}
	j.logf(ctx, rc, "status %d, %d bytes", resp.StatusCode, n)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		j.logf(ctx, rc, "nothing to import")
		return workflow.Skipped(), nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return workflow.Succeeded(map[string]any{
			"status": resp.StatusCode,
			"bytes":  n,
		}), nil
	default:
		return core.RunPatch{Result: map[string]any{"status": resp.StatusCode}},
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, j.entry.URL)
	}
}

// logf appends to the run log. A failed append is reported on the process log
// and does not fail the import.
func (j *HTTPImport) logf(ctx context.Context, rc *workflow.RunContext, format string, args ...any) {
	if err := rc.Logf(ctx, format, args...); err != nil && rc.Log != nil {
		rc.Log.Warn("failed to append run log", "error", err)
	}
}
