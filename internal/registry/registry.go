// Package registry enforces the singleton-per-execution rule for task
// wrappers: within one Execute call, each *task.Descriptor resolves to
// exactly one *wrapper.Wrapper, no matter how many times it is reached
// in the graph. It also carries the sticky execution-wide abort flag
// raised by taski.Abort.
package registry

import (
	"sync"

	"taski/internal/task"
	"taski/internal/wrapper"
)

// Registry is created fresh for every execution (see DESIGN.md: no
// cross-execution memoisation — a per-run graph of wrappers rather than
// a process-wide cache).
type Registry struct {
	mu       sync.Mutex
	wrappers map[*task.Descriptor]*wrapper.Wrapper

	aborted     bool
	abortReason string
	abortedBy   string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{wrappers: make(map[*task.Descriptor]*wrapper.Wrapper)}
}

// GetOrCreate returns the single Wrapper for d, constructing it (and the
// underlying task instance) on first access.
func (r *Registry) GetOrCreate(d *task.Descriptor) *wrapper.Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wrappers[d]; ok {
		return w
	}
	w := wrapper.New(d)
	r.wrappers[d] = w
	return w
}

// Get returns the existing wrapper for d, if one has been created.
func (r *Registry) Get(d *task.Descriptor) (*wrapper.Wrapper, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wrappers[d]
	return w, ok
}

// RequestAbort sets the sticky abort flag. Tasks already running are
// allowed to finish; the executor stops enqueueing new work once this is
// set. Abort is cooperative, not preemptive.
func (r *Registry) RequestAbort(byTask, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return
	}
	r.aborted = true
	r.abortedBy = byTask
	r.abortReason = reason
}

// AbortRequested reports whether any task has called taski.Abort.
func (r *Registry) AbortRequested() (requested bool, byTask, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted, r.abortedBy, r.abortReason
}

// FailedWrappers returns every wrapper whose run phase ended in failure,
// in descriptor-name order undefined (callers needing determinism should
// sort by Descriptor.Name).
func (r *Registry) FailedWrappers() []*wrapper.Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*wrapper.Wrapper
	for _, w := range r.wrappers {
		if w.Err() != nil {
			out = append(out, w)
		}
	}
	return out
}
