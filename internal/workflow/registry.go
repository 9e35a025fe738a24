package workflow

import (
	"sort"
	"sync"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// Registry maps workflow ids to their Job. The first registration of an id wins.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds job under its workflow id. Registering an id twice returns a
// duplicate_registration error and keeps the original job.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return core.NewInvalidRequestError("workflow job must not be nil", nil)
	}
	id := job.WorkflowID()
	if id == "" {
		return core.NewValidationError("workflow id must not be empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; exists {
		return core.NewDuplicateRegistrationError("Workflow", id)
	}
	r.jobs[id] = job
	return nil
}

// Get returns the job registered under id.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// List returns all registered jobs sorted by workflow id.
func (r *Registry) List() []Job {
	r.mu.RLock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].WorkflowID() < jobs[j].WorkflowID()
	})
	return jobs
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
