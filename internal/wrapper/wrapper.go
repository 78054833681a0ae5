// Package wrapper implements the per-execution state machine around one
// task/section instance. It owns the instance's construction, guards
// against double-enqueue, captures duration, and exposes the completed
// instance's exported values to dependents.
package wrapper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taski/internal/task"
	"taski/internal/taskerr"
)

// Phase distinguishes the run sub-machine from the clean sub-machine; each
// has its own state, since a task can be mid-clean long after it finished
// running.
type Phase int

const (
	PhaseRun Phase = iota
	PhaseClean
)

// state is the wrapper's local view of progress, independent from but kept
// in step with scheduler.State for the same descriptor.
type state int

const (
	statePending state = iota
	stateRunning
	stateCompleted
	stateFailed
)

// Wrapper is the singleton run-time record for one *task.Descriptor within
// one execution. Exactly one Wrapper exists per Descriptor per execution,
// enforced by internal/registry: a task class runs at most once per run.
type Wrapper struct {
	Descriptor *task.Descriptor

	mu       sync.Mutex
	instance any

	runState   state
	cleanState state

	runErr   error
	cleanErr error

	runStarted  time.Time
	runDuration time.Duration

	cleanStarted  time.Time
	cleanDuration time.Duration

	// selected is set once a section's Impl has chosen a candidate.
	selected *task.Descriptor
}

// New creates a Wrapper around a freshly constructed instance. Construction
// happens once, here, not lazily on first Run: a section's fields (e.g. an
// embedded task.Base) must exist before Impl or Run ever touches them.
func New(d *task.Descriptor) *Wrapper {
	return &Wrapper{
		Descriptor: d,
		instance:   d.NewInstance(),
	}
}

// Instance returns the underlying task/section instance.
func (w *Wrapper) Instance() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.instance
}

// MarkEnqueued guards against a task being handed to two workers at once.
// It is the wrapper-level mirror of scheduler.Scheduler.MarkEnqueued,
// operating on the instance's own state rather than the graph-wide map, so
// that a bug in one layer is caught by the other.
func (w *Wrapper) MarkEnqueued() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runState != statePending {
		return fmt.Errorf("wrapper: %q already enqueued or started", w.Descriptor.Name)
	}
	w.runState = stateRunning
	return nil
}

// Start records the moment a task begins executing. Must follow
// MarkEnqueued.
func (w *Wrapper) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runStarted = time.Now()
}

// Finish records the task's outcome and duration.
func (w *Wrapper) Finish(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.runStarted.IsZero() {
		w.runDuration = time.Since(w.runStarted)
	}
	w.runErr = err
	if err != nil {
		w.runState = stateFailed
	} else {
		w.runState = stateCompleted
	}
}

// StartClean/FinishClean mirror Start/Finish for the independent clean
// sub-machine: clean runs as its own pass with its own state, after every
// dependent has finished cleaning.
func (w *Wrapper) StartClean() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanStarted = time.Now()
}

func (w *Wrapper) FinishClean(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.cleanStarted.IsZero() {
		w.cleanDuration = time.Since(w.cleanStarted)
	}
	w.cleanErr = err
	if err != nil {
		w.cleanState = stateFailed
	} else {
		w.cleanState = stateCompleted
	}
}

// Duration returns how long the run phase took once finished.
func (w *Wrapper) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runDuration
}

// CleanDuration returns how long the clean phase took once finished.
func (w *Wrapper) CleanDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanDuration
}

// Err returns the run-phase error, if any.
func (w *Wrapper) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runErr
}

// CleanErr returns the clean-phase error, if any.
func (w *Wrapper) CleanErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanErr
}

// SetSelected records the candidate a section's Impl chose. Only valid for
// KindSection descriptors.
func (w *Wrapper) SetSelected(d *task.Descriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selected = d
}

// Selected returns the candidate a section chose, or nil if unresolved.
func (w *Wrapper) Selected() *task.Descriptor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selected
}

// RunTask invokes the instance's Run method, recovering a panic into a
// returned error rather than letting it cross into the worker pool.
func (w *Wrapper) RunTask(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = taskerr.WrapPanic(w.Descriptor.Name, r)
		}
	}()
	t, ok := w.instance.(task.Task)
	if !ok {
		return fmt.Errorf("wrapper: %q instance does not implement Task", w.Descriptor.Name)
	}
	return t.Run(ctx)
}

// RunSection invokes the instance's Impl method.
func (w *Wrapper) RunSection(ctx context.Context) (d *task.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = taskerr.WrapPanic(w.Descriptor.Name, r)
		}
	}()
	s, ok := w.instance.(task.Section)
	if !ok {
		return nil, fmt.Errorf("wrapper: %q instance does not implement Section", w.Descriptor.Name)
	}
	return s.Impl(ctx)
}

// RunClean invokes the instance's Clean method if it implements Cleaner;
// tasks that don't need cleanup are treated as an immediate success.
func (w *Wrapper) RunClean(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = taskerr.WrapPanic(w.Descriptor.Name, r)
		}
	}()
	c, ok := w.instance.(task.Cleaner)
	if !ok {
		return nil
	}
	return c.Clean(ctx)
}

// ValueOf reads an exported value off the instance, type-asserted to T.
func ValueOf[T any](w *Wrapper, name string) (T, error) {
	return task.ValueOf[T](w.Instance(), name)
}
