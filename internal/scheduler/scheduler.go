// Package scheduler tracks per-task runtime state over a graph.Graph and
// answers "what is ready to run/clean right now", adapting a state-machine
// DAG scheduler to two independent passes sharing one graph: a forward
// run pass and a reverse clean pass.
package scheduler

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"taski/internal/graph"
	"taski/internal/task"
)

// State is the runtime status of one task within one pass (run or clean).
type State string

const (
	Pending   State = "PENDING"
	Enqueued  State = "ENQUEUED"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
	Skipped   State = "SKIPPED"
)

// IsTerminal reports whether s will not change again.
func IsTerminal(s State) bool {
	switch s {
	case Completed, Failed, Skipped:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether s satisfies a dependency edge.
func IsSuccessful(s State) bool {
	return s == Completed
}

// Scheduler is the mutable runtime companion to an immutable graph.Graph.
// One Scheduler is created per execution; it is never reused across runs
// (see DESIGN.md's fresh-registry-per-execution decision, which applies
// here too).
type Scheduler struct {
	g *graph.Graph

	mu         sync.Mutex
	runState   map[*task.Descriptor]State
	cleanState map[*task.Descriptor]State
}

// New creates a Scheduler with every discovered descriptor seeded to
// Pending in both the run and clean state maps.
func New(g *graph.Graph) *Scheduler {
	s := &Scheduler{
		g:          g,
		runState:   map[*task.Descriptor]State{},
		cleanState: map[*task.Descriptor]State{},
	}
	for _, d := range g.Descriptors() {
		s.runState[d] = Pending
		s.cleanState[d] = Pending
	}
	return s
}

// RunState returns the current run-pass state of d.
func (s *Scheduler) RunState(d *task.Descriptor) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runState[d]
}

// CleanState returns the current clean-pass state of d.
func (s *Scheduler) CleanState(d *task.Descriptor) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanState[d]
}

// NextReadyRunTasks returns every Pending task whose dependencies are all
// Completed, sorted by (depth asc, name asc) as in internal/dag.GetReadyTasks.
// It does not mark anything Enqueued; callers that intend to hand a task
// to a worker must call MarkEnqueued themselves to avoid returning the
// same task twice from concurrent callers.
func (s *Scheduler) NextReadyRunTasks() []*task.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*task.Descriptor
	for _, d := range s.g.Descriptors() {
		if s.runState[d] != Pending {
			continue
		}
		depsOK := true
		for _, dep := range s.g.Dependencies(d) {
			if !IsSuccessful(s.runState[dep]) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, d)
		}
	}
	sortByDepthThenName(s.g, ready)
	return ready
}

// NextReadyCleanTasks returns every clean-Pending task, among those that
// completed successfully during the run pass, whose dependents that also
// completed the run pass are all clean-terminal. Clean therefore runs in
// the reverse order of run: a leaf (nothing depends on it) is ready to
// clean as soon as the run pass marks it Completed; an interior task is
// ready only once everything that used its exports has finished cleaning.
// A dependent that never completed (for instance one left Pending by an
// abort) does not hold its dependencies back.
func (s *Scheduler) NextReadyCleanTasks() []*task.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*task.Descriptor
	for _, d := range s.g.Descriptors() {
		if s.cleanState[d] != Pending {
			continue
		}
		if s.runState[d] != Completed {
			// Tasks that never ran (skipped) or failed have nothing to
			// clean; they are marked clean-Skipped eagerly by
			// MarkFailed/MarkSkippedCascade rather than waited on here.
			continue
		}
		depsOK := true
		for _, dep := range s.g.Dependents(d) {
			if s.runState[dep] == Completed && !IsTerminal(s.cleanState[dep]) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, d)
		}
	}
	sortByDepthThenName(s.g, ready)
	return ready
}

func sortByDepthThenName(g *graph.Graph, ds []*task.Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		di, dj := g.Depth(ds[i]), g.Depth(ds[j])
		if di != dj {
			return di < dj
		}
		return ds[i].Name < ds[j].Name
	})
}

// MarkEnqueued transitions d from Pending to Enqueued. It is idempotent
// for a task that is already Enqueued (a no-op success, not an error),
// since two concurrent callers racing to hand out the same ready task is
// expected to happen, not a programmer error; any other current state is
// rejected.
func (s *Scheduler) MarkEnqueued(d *task.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runState[d]
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", d.Name)
	}
	if cur == Enqueued {
		return nil
	}
	if cur != Pending {
		return fmt.Errorf("scheduler: invalid run transition for %q: expected %s, got %s", d.Name, Pending, cur)
	}
	s.runState[d] = Enqueued
	return nil
}

// MarkRunning transitions d from Enqueued to Running.
func (s *Scheduler) MarkRunning(d *task.Descriptor) error {
	return s.transitionRun(d, Enqueued, Running)
}

// MarkCompleted transitions d from Running to Completed.
func (s *Scheduler) MarkCompleted(d *task.Descriptor) error {
	return s.transitionRun(d, Running, Completed)
}

// MarkFailed transitions d from Running to Failed and cascades Skipped to
// every reachable dependent that is still Pending or Enqueued, mirroring
// internal/dag.FailAndPropagate. Dependents that are already terminal are
// left untouched. The cascaded tasks are also marked clean-Skipped since
// they never ran and have nothing to clean.
func (s *Scheduler) MarkFailed(d *task.Descriptor) ([]*task.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runState[d] != Running {
		return nil, fmt.Errorf("scheduler: cannot fail %q from state %s", d.Name, s.runState[d])
	}
	s.runState[d] = Failed
	s.cleanState[d] = Skipped

	skipped := s.cascadeSkip(d)
	return skipped, nil
}

// cascadeSkip walks dependents of d in deterministic (depth-ordered)
// order, skipping any that are still Pending or Enqueued. Caller must
// hold s.mu.
func (s *Scheduler) cascadeSkip(d *task.Descriptor) []*task.Descriptor {
	visited := map[*task.Descriptor]bool{d: true}
	pq := &descHeap{}
	heap.Init(pq)
	for _, dep := range s.g.Dependents(d) {
		heap.Push(pq, descItem{dep, s.g.Depth(dep)})
	}

	var skipped []*task.Descriptor
	for pq.Len() > 0 {
		it := heap.Pop(pq).(descItem)
		if visited[it.d] {
			continue
		}
		visited[it.d] = true

		switch s.runState[it.d] {
		case Pending, Enqueued:
			s.runState[it.d] = Skipped
			s.cleanState[it.d] = Skipped
			skipped = append(skipped, it.d)
		default:
			// Already terminal (completed/failed/skipped): leave as is.
		}

		for _, next := range s.g.Dependents(it.d) {
			if !visited[next] {
				heap.Push(pq, descItem{next, s.g.Depth(next)})
			}
		}
	}

	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Name < skipped[j].Name })
	return skipped
}

// descItem is one entry of a descHeap: a descriptor ordered by its graph
// depth, so cascadeSkip visits shallower dependents first.
type descItem struct {
	d     *task.Descriptor
	depth int
}

// descHeap is a priority queue ordered by depth; tie-breaking among equal
// depths is irrelevant since cascadeSkip's final result is sorted by name
// before being returned.
type descHeap []descItem

func (h descHeap) Len() int           { return len(h) }
func (h descHeap) Less(i, j int) bool { return h[i].depth < h[j].depth }
func (h descHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *descHeap) Push(x any)        { *h = append(*h, x.(descItem)) }
func (h *descHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MarkSkippedCascade marks an unselected section candidate as run-Skipped
// and clean-Skipped, then cascades Skipped to everything downstream of it
// that is still Pending or Enqueued, the same way a failure propagates:
// nothing that depends solely on a candidate which was never chosen can
// ever become ready.
func (s *Scheduler) MarkSkippedCascade(d *task.Descriptor) ([]*task.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runState[d] != Pending {
		return nil, fmt.Errorf("scheduler: cannot skip %q from state %s", d.Name, s.runState[d])
	}
	s.runState[d] = Skipped
	s.cleanState[d] = Skipped
	skipped := s.cascadeSkip(d)
	return append([]*task.Descriptor{d}, skipped...), nil
}

// MarkCleanEnqueued/MarkCleanRunning/MarkCleanCompleted/MarkCleanFailed
// mirror the run-pass transitions for the reverse clean pass. A clean
// failure does not cascade: clean is best-effort cleanup, and one task's
// cleanup failing must not block cleaning the rest of the graph.
func (s *Scheduler) MarkCleanEnqueued(d *task.Descriptor) error {
	return s.transitionClean(d, Pending, Enqueued)
}

func (s *Scheduler) MarkCleanRunning(d *task.Descriptor) error {
	return s.transitionClean(d, Enqueued, Running)
}

func (s *Scheduler) MarkCleanCompleted(d *task.Descriptor) error {
	return s.transitionClean(d, Running, Completed)
}

func (s *Scheduler) MarkCleanFailed(d *task.Descriptor) error {
	return s.transitionClean(d, Running, Failed)
}

func (s *Scheduler) transitionRun(d *task.Descriptor, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runState[d]
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", d.Name)
	}
	if cur != from {
		return fmt.Errorf("scheduler: invalid run transition for %q: expected %s, got %s", d.Name, from, cur)
	}
	s.runState[d] = to
	return nil
}

func (s *Scheduler) transitionClean(d *task.Descriptor, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cleanState[d]
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", d.Name)
	}
	if cur != from {
		return fmt.Errorf("scheduler: invalid clean transition for %q: expected %s, got %s", d.Name, from, cur)
	}
	s.cleanState[d] = to
	return nil
}

// RunPending reports whether any task has not yet reached a terminal run
// state.
func (s *Scheduler) RunPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.runState {
		if !IsTerminal(st) {
			return true
		}
	}
	return false
}

// CleanPending reports whether any task has not yet reached a terminal
// clean state.
func (s *Scheduler) CleanPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.cleanState {
		if !IsTerminal(st) {
			return true
		}
	}
	return false
}

// SkippedTaskClasses returns the names of every task that never ran, for
// diagnostics and the execution result: both tasks explicitly cascaded to
// Skipped (a failed or unselected upstream made them unreachable) and
// tasks still sitting Pending at the moment of the call. The latter case
// only arises on a cooperative abort: an abort does not cascade-skip
// anything (a skip reason names a specific upstream failure/non-selection,
// which an abort has neither), it simply stops the scheduler from handing
// out any more Pending work, so those tasks would otherwise go unreported
// as having never run at all.
func (s *Scheduler) SkippedTaskClasses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for d, st := range s.runState {
		if st == Skipped || st == Pending {
			out = append(out, d.Name)
		}
	}
	sort.Strings(out)
	return out
}
