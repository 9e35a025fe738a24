package nats

import "fmt"

// Subject hierarchy for workflow run events.
//
//	ojs.workflows.events.run.{workflow}  -- events of one workflow
//	ojs.workflows.events.all             -- every run event
const (
	StreamName    = "OJS_WORKFLOWS"
	SubjectPrefix = "ojs.workflows"

	// KV bucket holding one entry per workflow run, keyed by run id.
	BucketRuns = "ojs-workflow-runs"
)

// RunEventSubject returns the subject for events of one workflow.
// Example: ojs.workflows.events.run.nightly-import
func RunEventSubject(workflowID string) string {
	return fmt.Sprintf("%s.events.run.%s", SubjectPrefix, subjectToken(workflowID))
}

// AllEventsSubject returns the fan-in subject every run event is also sent to.
func AllEventsSubject() string {
	return SubjectPrefix + ".events.all"
}

// EventsWildcardSubject matches every event subject. Used as the stream filter.
func EventsWildcardSubject() string {
	return SubjectPrefix + ".events.>"
}

// subjectToken makes s safe to use as a single subject token: the separators
// and wildcards of the subject grammar become underscores.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	b := []byte(s)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			b[i] = '_'
		}
	}
	return string(b)
}
