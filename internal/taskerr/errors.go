// Package taskerr defines the error taxonomy surfaced by the engine to
// callers: cycle detection, per-task wrapping, aggregation of parallel
// failures, and cooperative abort.
package taskerr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CycleError is raised when DependencyGraph construction finds the
// reachable graph is not acyclic. It names every strongly connected
// component on the cycle so callers can see the whole loop, not just one
// witness edge.
type CycleError struct {
	Components [][]string
}

func (e *CycleError) Error() string {
	if e == nil || len(e.Components) == 0 {
		return "cycle detected"
	}
	parts := make([]string, 0, len(e.Components))
	for _, scc := range e.Components {
		parts = append(parts, strings.Join(scc, " -> "))
	}
	return fmt.Sprintf("cycle detected: %s", strings.Join(parts, "; "))
}

// TaskError wraps a user error raised from a task's Run/Impl/Clean body.
// It remembers the task's name and the underlying cause so that dependents
// accessing a failed task's exported values can re-raise the same error.
type TaskError struct {
	TaskName string
	Cause    error
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("task %q failed: %v", e.TaskName, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// Is reports two *TaskError values as matching iff they name the same
// task, regardless of Cause. This lets a caller write
// errors.Is(err, &TaskError{TaskName: "FetchUser"}) to ask "did FetchUser
// fail" without needing the exact *TaskError instance the engine produced
// or caring what its underlying Cause was.
func (e *TaskError) Is(target error) bool {
	te, ok := target.(*TaskError)
	if !ok || te.TaskName == "" {
		return false
	}
	return te.TaskName == e.TaskName
}

// WrapPanic turns a recovered panic value into a *TaskError, capturing a
// stack trace via github.com/pkg/errors so the original panic site is not
// lost once it crosses the worker/executor boundary.
func WrapPanic(taskName string, recovered any) *TaskError {
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = errors.WithStack(v)
	default:
		cause = errors.Errorf("panic: %v", v)
	}
	return &TaskError{TaskName: taskName, Cause: cause}
}

// AbortError reports that a task body called taski.Abort, which sets the
// Registry's sticky abort flag; running tasks are allowed to finish, but
// no further task transitions Pending -> Enqueued. The executor returns it
// in preference to any AggregateError once the run pass ends.
type AbortError struct {
	TaskName string
	Reason   string
}

func (e *AbortError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return fmt.Sprintf("execution aborted by task %q", e.TaskName)
	}
	return fmt.Sprintf("execution aborted by task %q: %s", e.TaskName, e.Reason)
}

// TaskFailure is one entry of an AggregateError: the task name and the
// error that task produced.
type TaskFailure struct {
	TaskName string
	Err      error
}

// AggregateError collects every task failure observed during one
// execution or clean pass. Callers that want to know whether a specific
// task's error is present (even buried inside the aggregate) should use
// Contains instead of walking Failures by hand.
type AggregateError struct {
	Failures []TaskFailure
}

func (e *AggregateError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "no failures"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.TaskName, f.Err))
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Add appends a failure to the aggregate. Nil receivers are not supported;
// callers build the aggregate only once at least one failure exists.
func (e *AggregateError) Add(taskName string, err error) {
	e.Failures = append(e.Failures, TaskFailure{TaskName: taskName, Err: err})
}

// Empty reports whether no failures were collected.
func (e *AggregateError) Empty() bool {
	return e == nil || len(e.Failures) == 0
}

// Contains reports whether target matches, or is matched by, any
// collected failure's error via errors.Is — the same transparent
// containment check errors.Is already does for an ordinary wrapped error,
// extended across every failure in the aggregate. Callers that only care
// about one task's failure can write:
//
//	if aggErr.Contains(&taskerr.TaskError{TaskName: "FetchUser"}) { ... }
//
// which matches regardless of what FetchUser's actual Cause was, since
// *TaskError.Is compares by TaskName alone. A caller holding a specific
// sentinel error can equally ask whether any failure wraps that exact
// value.
func (e *AggregateError) Contains(target error) bool {
	if e == nil || target == nil {
		return false
	}
	for _, f := range e.Failures {
		if te, ok := target.(*TaskError); ok && te.TaskName == f.TaskName {
			return true
		}
		if errors.Is(f.Err, target) {
			return true
		}
	}
	return false
}

// Unwrap exposes every collected failure's error to errors.Is/errors.As,
// following the same multi-error convention errors.Join uses, so a caller
// can also reach into an AggregateError with the stdlib's own traversal
// instead of going through Contains.
func (e *AggregateError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// FirstCause returns the error of the first recorded failure, or nil if
// none were recorded. Useful when a caller wants "a" cause rather than the
// full aggregate.
func (e *AggregateError) FirstCause() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}
