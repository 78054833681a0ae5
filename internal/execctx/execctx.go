// Package execctx carries the ambient, per-execution state a running task
// can observe: the current phase (run or clean), the dependency graph
// itself, a panic-isolating observer fan-out, captured stdout per task,
// and a dynamically-scoped Args/Env store.
package execctx

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"taski/internal/graph"
	"taski/internal/registry"
	"taski/internal/task"
)

// Phase identifies which pass of an execution is currently active.
type Phase string

const (
	PhaseRun   Phase = "run"
	PhaseClean Phase = "clean"
)

// Observer receives lifecycle notifications during an execution. Every
// method must be safe to call concurrently from multiple worker
// goroutines and must not block for long: a slow observer delays the
// executor's own progress, not just its own notification.
type Observer interface {
	OnReady(d *task.Descriptor)
	OnStart(d *task.Descriptor, phase Phase)
	OnStop(d *task.Descriptor, phase Phase, err error)
}

// observerList fans a single call out to every registered Observer,
// swallowing panics from any one of them so a buggy observer cannot take
// the whole execution down.
type observerList struct {
	mu        sync.RWMutex
	observers []Observer
}

func (l *observerList) add(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

func (l *observerList) snapshot() []Observer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Observer, len(l.observers))
	copy(out, l.observers)
	return out
}

func safeNotify(fn func(Observer)) func(o Observer) {
	return func(o Observer) {
		defer func() { _ = recover() }()
		fn(o)
	}
}

// ScopedStore is a dynamically-scoped key/value store: Push installs a new
// top frame (falling back to outer frames for keys it doesn't shadow) and
// returns a restore function that pops it. A section or nested task can
// temporarily override a value for everything it calls, and the override
// disappears the moment its own scope exits, even if it panics.
type ScopedStore struct {
	mu     sync.RWMutex
	frames []map[string]any
}

// NewScopedStore creates a store with one base frame holding the given
// initial values (nil is treated as empty).
func NewScopedStore(initial map[string]any) *ScopedStore {
	base := make(map[string]any, len(initial))
	for k, v := range initial {
		base[k] = v
	}
	return &ScopedStore{frames: []map[string]any{base}}
}

// Get resolves key from the innermost frame outward.
func (s *ScopedStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][key]; ok {
			return v, true
		}
	}
	return nil, false
}

// All resolves every visible key, innermost frame winning on conflicts.
func (s *ScopedStore) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]any{}
	for _, frame := range s.frames {
		for k, v := range frame {
			out[k] = v
		}
	}
	return out
}

// Push installs a new frame with the given overrides and returns a
// function that restores the store to its prior depth. Callers must defer
// the restore function immediately:
//
//	restore := store.Push(map[string]any{"env": "staging"})
//	defer restore()
func (s *ScopedStore) Push(overrides map[string]any) func() {
	s.mu.Lock()
	frame := make(map[string]any, len(overrides))
	for k, v := range overrides {
		frame[k] = v
	}
	s.frames = append(s.frames, frame)
	depth := len(s.frames)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.frames) == depth {
			s.frames = s.frames[:depth-1]
		}
	}
}

// Context is the per-execution ambient state threaded through a run. It is
// not safe to share across independent executions; taski.Execute creates
// exactly one per call.
type Context struct {
	Graph    *graph.Graph
	Registry *registry.Registry

	Args *ScopedStore
	Env  *ScopedStore

	observers observerList

	stdoutMu sync.Mutex
	stdout   map[*task.Descriptor]*bytes.Buffer

	phaseMu sync.RWMutex
	phase   Phase
}

// New creates a Context for one execution over g, seeded with the given
// initial Args and Env values. reg receives any taski.Abort call a task
// makes through the ambient accessor.
func New(g *graph.Graph, reg *registry.Registry, args, env map[string]any) *Context {
	return &Context{
		Graph:    g,
		Registry: reg,
		Args:     NewScopedStore(args),
		Env:      NewScopedStore(env),
		stdout:   make(map[*task.Descriptor]*bytes.Buffer),
		phase:    PhaseRun,
	}
}

// RequestAbort raises the sticky, cooperative abort flag on behalf of
// taskName. See registry.Registry.RequestAbort.
func (c *Context) RequestAbort(taskName, reason string) {
	c.Registry.RequestAbort(taskName, reason)
}

// AbortRequested reports whether any task has called taski.Abort.
func (c *Context) AbortRequested() (requested bool, byTask, reason string) {
	return c.Registry.AbortRequested()
}

// AddObserver registers o to receive lifecycle notifications.
func (c *Context) AddObserver(o Observer) {
	c.observers.add(o)
}

// SetPhase records which pass (run/clean) is currently executing. The
// executor calls this once per pass; observers read it via CurrentPhase to
// label their own output.
func (c *Context) SetPhase(p Phase) {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	c.phase = p
}

// CurrentPhase returns the active pass.
func (c *Context) CurrentPhase() Phase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

// NotifyReady fans out OnReady to every observer.
func (c *Context) NotifyReady(d *task.Descriptor) {
	for _, o := range c.observers.snapshot() {
		safeNotify(func(o Observer) { o.OnReady(d) })(o)
	}
}

// NotifyStart fans out OnStart to every observer.
func (c *Context) NotifyStart(d *task.Descriptor, phase Phase) {
	for _, o := range c.observers.snapshot() {
		safeNotify(func(o Observer) { o.OnStart(d, phase) })(o)
	}
}

// NotifyStop fans out OnStop to every observer.
func (c *Context) NotifyStop(d *task.Descriptor, phase Phase, err error) {
	for _, o := range c.observers.snapshot() {
		safeNotify(func(o Observer) { o.OnStop(d, phase, err) })(o)
	}
}

// SkipObserver is an optional Observer extension for recording a cascaded
// skip with its cause, distinct from an ordinary completion or failure.
type SkipObserver interface {
	OnSkip(d *task.Descriptor, reason, causeTask string)
}

// SectionObserver is an optional Observer extension for recording which
// candidate a section selected.
type SectionObserver interface {
	OnSectionSelected(section, selected *task.Descriptor, candidates []string)
}

// NotifySkip fans out OnSkip to every observer that implements SkipObserver.
func (c *Context) NotifySkip(d *task.Descriptor, reason, causeTask string) {
	for _, o := range c.observers.snapshot() {
		so, ok := o.(SkipObserver)
		if !ok {
			continue
		}
		safeNotify(func(o Observer) { so.OnSkip(d, reason, causeTask) })(o)
	}
}

// NotifySectionSelected fans out OnSectionSelected to every observer that
// implements SectionObserver.
func (c *Context) NotifySectionSelected(section, selected *task.Descriptor, candidates []string) {
	for _, o := range c.observers.snapshot() {
		so, ok := o.(SectionObserver)
		if !ok {
			continue
		}
		safeNotify(func(o Observer) { so.OnSectionSelected(section, selected, candidates) })(o)
	}
}

// stdoutRedirectMu serializes every process-wide os.Stdout redirect across
// every Context in the process: os.Stdout is a single global, so only one
// task anywhere may own it at a time, regardless of how many worker pools
// or executions are running concurrently.
var stdoutRedirectMu sync.Mutex

// CaptureStdout redirects the process's real os.Stdout to d's captured
// buffer for the duration of fn, then restores it, even if fn panics.
// Because os.Stdout has exactly one value for the whole process, fn runs
// while a process-wide lock is held: task bodies wrapped in CaptureStdout
// run one at a time, even when a worker pool has more than one worker, so
// two tasks' output never interleaves into each other's buffer.
func (c *Context) CaptureStdout(d *task.Descriptor, fn func() error) error {
	stdoutRedirectMu.Lock()
	defer stdoutRedirectMu.Unlock()

	r, w, err := os.Pipe()
	if err != nil {
		return fn()
	}

	original := os.Stdout
	os.Stdout = w

	drained := make(chan struct{})
	go func() {
		io.Copy(c.StdoutWriter(d), r)
		close(drained)
	}()

	defer func() {
		os.Stdout = original
		w.Close()
		<-drained
		r.Close()
	}()

	return fn()
}

// StdoutWriter returns a writer that appends to d's captured stdout
// buffer, creating it on first use. Tasks never write to the process's
// real stdout directly: output is captured per task so parallel tasks'
// output does not interleave on the terminal.
func (c *Context) StdoutWriter(d *task.Descriptor) *bytes.Buffer {
	c.stdoutMu.Lock()
	defer c.stdoutMu.Unlock()
	buf, ok := c.stdout[d]
	if !ok {
		buf = &bytes.Buffer{}
		c.stdout[d] = buf
	}
	return buf
}

// Stdout returns a copy of d's captured stdout.
func (c *Context) Stdout(d *task.Descriptor) []byte {
	c.stdoutMu.Lock()
	defer c.stdoutMu.Unlock()
	buf, ok := c.stdout[d]
	if !ok {
		return nil
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

type ctxKey struct{}

// WithContext returns a derived context.Context carrying c, so ambient
// accessors (taski.CurrentArgs/CurrentEnv) can recover it from the
// context.Context a task's Run method already receives.
func WithContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// FromContext recovers the Context installed by WithContext, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}
