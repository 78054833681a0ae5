// Package taski is a parallel, dependency-driven task execution engine: a
// task declares what it exports and a Run method; the engine discovers
// what every task depends on by statically analyzing its source, builds
// the dependency graph, and hands every ready task to a shared worker
// pool. Each task body runs under a process-wide stdout capture lock, so
// at most one task body executes at any instant.
//
// There is no wire protocol and no persisted state: taski is a library
// embedded in a calling program, not a service or a CLI.
package taski

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taski/internal/config"
	"taski/internal/execctx"
	"taski/internal/executor"
	"taski/internal/task"
	"taski/internal/taskerr"
	"taski/internal/wrapper"
)

// Re-exported building blocks so callers only need to import one package
// to define and run tasks.
type (
	Task       = task.Task
	Cleaner    = task.Cleaner
	Section    = task.Section
	Descriptor = task.Descriptor
	Base       = task.Base

	AggregateError = taskerr.AggregateError
	TaskError      = taskerr.TaskError
	CycleError     = taskerr.CycleError
	AbortError     = taskerr.AbortError
)

// Register declares an ordinary task class. See task.Register.
func Register(name string, exportNames []string, factory func() Task) *Descriptor {
	return task.Register(name, exportNames, factory)
}

// RegisterSection declares a section. See task.RegisterSection.
func RegisterSection(name string, exportNames []string, selectorFactory func() Section, candidates ...*Descriptor) *Descriptor {
	return task.RegisterSection(name, exportNames, selectorFactory, candidates...)
}

// Option configures a call to Execute.
type Option func(*executor.Options)

// WithArgs seeds the execution's ambient Args store.
func WithArgs(args map[string]any) Option {
	return func(o *executor.Options) { o.Args = args }
}

// ConfigOptions controls how NewArgs builds an ambient Args map from a
// config file, environment variables, and explicit defaults.
type ConfigOptions = config.Options

// NewArgs builds an ambient Args map from an optional config file layered
// under environment variables, for callers who want their task graph's
// Args seeded the way a service's own config struct would be: defaults,
// then file, then environment, highest priority last.
func NewArgs(opts ConfigOptions) (map[string]any, error) {
	return config.Load(opts)
}

// WithEnv seeds the execution's ambient Env store.
func WithEnv(env map[string]any) Option {
	return func(o *executor.Options) { o.Env = env }
}

// WithWorkers overrides the worker pool size (default clamp(NumCPU(),2,8)).
func WithWorkers(n int) Option {
	return func(o *executor.Options) { o.Workers = n }
}

// WithLogger installs a structured logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *executor.Options) { o.Logger = logger }
}

// WithObserver registers a lifecycle observer.
func WithObserver(obs execctx.Observer) Option {
	return func(o *executor.Options) { o.Observers = append(o.Observers, obs) }
}

// Result reports what happened during Execute: every run-pass outcome,
// plus the clean pass's own failures (if any), collapsed into one
// picture for the caller.
type Result struct {
	Completed []string
	Skipped   []string
	Failed    []string
	Aborted   bool
	AbortedBy string
	Duration  map[string]time.Duration

	CleanFailed []string
}

// Execute builds the dependency graph reachable from root, runs it to
// completion (or to the first unrecoverable cooperative abort), then runs
// the reverse clean pass over everything that completed. The returned
// error is a *taskerr.AggregateError, a *taskerr.AbortError, a
// *taskerr.CycleError, another graph construction error (such as a task
// that depends on itself or an unparseable task source), or nil.
func Execute(ctx context.Context, root *Descriptor, opts ...Option) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var o executor.Options
	for _, fn := range opts {
		fn(&o)
	}

	exec, err := executor.New(root, o)
	if err != nil {
		return nil, err
	}
	defer exec.Shutdown()

	runResult := exec.Run(ctx)

	cleanResult := exec.Clean(ctx)

	result := &Result{
		Completed: runResult.Completed,
		Skipped:   runResult.Skipped,
		Failed:    runResult.Failed,
		Aborted:   runResult.Aborted,
		AbortedBy: runResult.AbortedBy,
		Duration:  runResult.Duration,
	}
	if cleanResult.Err != nil {
		if agg, ok := cleanResult.Err.(*taskerr.AggregateError); ok {
			for _, f := range agg.Failures {
				result.CleanFailed = append(result.CleanFailed, f.TaskName)
			}
		}
	}

	if runResult.Err != nil {
		return result, runResult.Err
	}
	return result, nil
}

// Get reads a named exported value from dep. It is the ambient,
// context-threaded counterpart to task.ValueOf: a task body calls
// taski.Get[T](ctx, Dep, "name") instead of holding a reference to Dep's
// wrapper directly.
//
// Dep must already be part of the graph reachable from the execution's
// root, which the analyzer guarantees for any Descriptor referenced in the
// calling task's own Run body: the scheduler never starts a task before
// every dependency it statically referenced has completed, so by the time
// Get is reachable, dep has already run.
func Get[T any](ctx context.Context, dep *Descriptor, name string) (T, error) {
	var zero T
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		return zero, fmt.Errorf("taski: Get called outside of an execution")
	}
	w, ok := ec.Registry.Get(dep)
	if !ok {
		return zero, fmt.Errorf("taski: %q is not part of this execution's graph", dep.Name)
	}
	if err := w.Err(); err != nil {
		return zero, err
	}
	return wrapper.ValueOf[T](w, name)
}

// Abort raises the sticky, cooperative abort flag: already-running tasks
// finish, but no further task starts. It is typically called from inside
// a task's Run method when that task detects a condition that makes the
// rest of the execution pointless.
func Abort(ctx context.Context, taskName, reason string) {
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		return
	}
	ec.RequestAbort(taskName, reason)
}

// CurrentArgs returns the ambient Args visible at the call site.
func CurrentArgs(ctx context.Context) map[string]any {
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		return nil
	}
	return ec.Args.All()
}

// CurrentEnv returns the ambient Env visible at the call site.
func CurrentEnv(ctx context.Context) map[string]any {
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		return nil
	}
	return ec.Env.All()
}

// ScopedArgs installs overrides on top of the current Args for the
// duration of fn, restoring the prior values once fn returns (even if it
// panics).
func ScopedArgs(ctx context.Context, overrides map[string]any, fn func()) {
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		fn()
		return
	}
	restore := ec.Args.Push(overrides)
	defer restore()
	fn()
}

