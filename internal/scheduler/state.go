package scheduler

import (
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

type registration struct {
	id      string
	expr    string
	entryID cron.EntryID
	job     cron.Job
}

// State holds the registrations of one Scheduler and the guard of registrations
// whose task is currently executing.
type State struct {
	mu            sync.Mutex
	registrations map[string]*registration
	running       map[string]struct{}
}

func newState() *State {
	return &State{
		registrations: make(map[string]*registration),
		running:       make(map[string]struct{}),
	}
}

// acquire marks id as executing. It returns false if id is already executing.
func (st *State) acquire(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, busy := st.running[id]; busy {
		return false
	}
	st.running[id] = struct{}{}
	return true
}

func (st *State) release(id string) {
	st.mu.Lock()
	delete(st.running, id)
	st.mu.Unlock()
}

// IsRunning reports whether the task registered under id is executing.
func (st *State) IsRunning(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, busy := st.running[id]
	return busy
}

// Running returns the ids of executing tasks, sorted.
func (st *State) Running() []string {
	st.mu.Lock()
	ids := make([]string, 0, len(st.running))
	for id := range st.running {
		ids = append(ids, id)
	}
	st.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (st *State) lookup(id string) (*registration, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	reg, ok := st.registrations[id]
	return reg, ok
}

func (st *State) snapshot() []*registration {
	st.mu.Lock()
	regs := make([]*registration, 0, len(st.registrations))
	for _, reg := range st.registrations {
		regs = append(regs, reg)
	}
	st.mu.Unlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].id < regs[j].id })
	return regs
}
