// Package trace adapts the canonical, deterministic trace-engine model (sort,
// hash, fixed-order JSON) to taski's own lifecycle vocabulary: every task's
// ready/start/complete/fail/skip transition, recorded independent of which
// goroutine happened to finish first.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical, deterministic record of one execution.
//
// Invariants:
//   - Must capture GraphHash and an ordered list of events.
//   - Must contain logical transitions, not runtime-dependent details.
//   - Must not include timestamps, pointers, or any runtime-dependent values.
//
// GraphHash identifies the dependency graph an execution ran over (the
// caller decides how to compute it; taski does not hash its own graphs).
//
// Canonical representation:
//   - Events are sorted via Canonicalize() using a fully-specified ordering.
//   - JSON serialization uses a custom marshaler to fix field order and omit
//     absent optional fields.
//
// Treat ExecutionTrace as immutable once Canonicalize() has been called. The
// trace is observational only and must never affect execution behavior.
type ExecutionTrace struct {
	GraphHash string
	Events    []TraceEvent
}

// TraceEventKind is the stable, canonical discriminator for TraceEvent.
//
// These kinds represent logical lifecycle transitions, not incidental
// runtime occurrences. The string values are part of the trace's canonical
// bytes; do not rename them.
type TraceEventKind string

const (
	EventTaskReady       TraceEventKind = "TaskReady"
	EventTaskStarted     TraceEventKind = "TaskStarted"
	EventTaskCompleted   TraceEventKind = "TaskCompleted"
	EventSectionSelected TraceEventKind = "SectionSelected"
	EventTaskFailed      TraceEventKind = "TaskFailed"
	EventTaskSkipped     TraceEventKind = "TaskSkipped"
)

// TraceEvent is a single logical transition.
//
// Determinism constraints:
//   - No timestamps.
//   - No error strings or stack traces.
//   - No fields derived from pointer identity or map iteration.
//
// Optional fields are set deterministically and canonicalized:
//   - Empty Candidates slices are normalized to nil (omitted in JSON).
//   - Candidates are sorted.
type TraceEvent struct {
	Kind TraceEventKind

	// TaskName identifies the task/section this event refers to. Required
	// for every event kind.
	TaskName string

	// Phase is "run" or "clean". Empty means the event is phase-agnostic.
	Phase string

	// Reason is a stable, logical reason code (e.g. "UpstreamFailed",
	// "NotSelected", "Aborted"). The set of allowed values is intentionally
	// open; producers must keep individual codes stable once emitted.
	Reason string

	// CauseTask records a related task, e.g. the failing dependency that
	// caused a downstream skip, or the section whose selection caused a
	// candidate skip.
	CauseTask string

	// Candidates lists the section's candidate task names, present only on
	// EventSectionSelected.
	Candidates []string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TaskName == "" {
			return fmt.Errorf("events[%d].taskName is required", i)
		}
		for j, c := range e.Candidates {
			if c == "" {
				return fmt.Errorf("events[%d].candidates[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Ordering guarantee: ordering is independent of execution timing or
// concurrency. This produces a total order over events, with TaskName as
// the primary key.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Candidates) == 0 {
			t.Events[i].Candidates = nil
			continue
		}
		cand := make([]string, len(t.Events[i].Candidates))
		copy(cand, t.Events[i].Candidates)
		sort.Strings(cand)
		t.Events[i].Candidates = cand
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.TaskName != b.TaskName {
			return a.TaskName < b.TaskName
		}
		if a.Phase != b.Phase {
			return a.Phase < b.Phase
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseTask != b.CauseTask {
			return a.CauseTask < b.CauseTask
		}
		return compareStringSlices(a.Candidates, b.Candidates)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTaskReady:
		return 10
	case EventTaskStarted:
		return 20
	case EventTaskCompleted:
		return 30
	case EventSectionSelected:
		return 35
	case EventTaskFailed:
		return 40
	case EventTaskSkipped:
		return 50
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	la := len(a)
	lb := len(b)
	min := la
	if lb < min {
		min = lb
	}
	for i := 0; i < min; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return la < lb
}

// CanonicalJSON returns the canonical JSON encoding of the trace. It
// canonicalizes a copy so the caller's own slices are left untouched.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash}
	cp.Events = make([]TraceEvent, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the deterministic trace hash (sha256 hex) of the canonical
// JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order: graphHash first, then events.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteByte(',')

	buf.WriteString(`"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var candidates []string
	if len(e.Candidates) > 0 {
		candidates = make([]string, len(e.Candidates))
		copy(candidates, e.Candidates)
		sort.Strings(candidates)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.TaskName != "" {
		buf.WriteByte(',')
		buf.WriteString(`"taskName":`)
		tb, _ := json.Marshal(e.TaskName)
		buf.Write(tb)
	}

	if e.Phase != "" {
		buf.WriteByte(',')
		buf.WriteString(`"phase":`)
		pb, _ := json.Marshal(e.Phase)
		buf.Write(pb)
	}

	if e.Reason != "" {
		buf.WriteByte(',')
		buf.WriteString(`"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}

	if e.CauseTask != "" {
		buf.WriteByte(',')
		buf.WriteString(`"causeTask":`)
		cb, _ := json.Marshal(e.CauseTask)
		buf.Write(cb)
	}

	if len(candidates) > 0 {
		buf.WriteByte(',')
		buf.WriteString(`"candidates":[`)
		for i := range candidates {
			if i > 0 {
				buf.WriteByte(',')
			}
			ab, _ := json.Marshal(candidates[i])
			buf.Write(ab)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
