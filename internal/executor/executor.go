// Package executor implements the orchestrator: build the graph, seed
// ready tasks onto a shared worker pool, drain completions, cascade
// failures and section skips, aggregate errors, and run the reverse clean
// pass. It generalizes a depth-staged DAG executor to lazily-discovered,
// in-process Go task graphs with sections.
package executor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"taski/internal/analyzer"
	"taski/internal/execctx"
	"taski/internal/graph"
	"taski/internal/pool"
	"taski/internal/registry"
	"taski/internal/scheduler"
	"taski/internal/task"
	"taski/internal/taskerr"
	"taski/internal/wrapper"
)

// Options configures one execution.
type Options struct {
	// Workers overrides the worker pool size. Zero means "use
	// Args[\"_workers\"] if present, else pool.DefaultSize()".
	Workers int
	Logger  *zap.Logger

	Observers []execctx.Observer
	Args      map[string]any
	Env       map[string]any
}

// Result summarizes one pass (run or clean) of an execution.
type Result struct {
	Completed []string
	Skipped   []string
	Failed    []string
	Aborted   bool
	AbortedBy string
	Duration  map[string]time.Duration

	Err error
}

// Execution holds everything built for one root descriptor: the
// discovered graph, the run/clean state, the wrapper registry, and the
// worker pool. Run and Clean are called on the same Execution, in that
// order, so clean can see exactly what ran.
type Execution struct {
	Graph     *graph.Graph
	Scheduler *scheduler.Scheduler
	Registry  *registry.Registry
	Ctx       *execctx.Context

	pool   *pool.Pool
	logger *zap.Logger
}

// New discovers the graph reachable from root and prepares an Execution.
// It does not start running anything; call Run.
func New(root *task.Descriptor, opts Options) (*Execution, error) {
	an := analyzer.New()
	g, err := graph.Build(root, an, analyzer.ModeExecution)
	if err != nil {
		return nil, err
	}

	sch := scheduler.New(g)
	reg := registry.New()
	ec := execctx.New(g, reg, opts.Args, opts.Env)
	for _, o := range opts.Observers {
		ec.AddObserver(o)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := opts.Workers
	if workers == 0 {
		workers = resolveWorkerCount(ec)
	}

	return &Execution{
		Graph:     g,
		Scheduler: sch,
		Registry:  reg,
		Ctx:       ec,
		pool:      pool.New(workers, logger),
		logger:    logger,
	}, nil
}

func resolveWorkerCount(ec *execctx.Context) int {
	if v, ok := ec.Args.Get("_workers"); ok {
		switch n := v.(type) {
		case int:
			if n > 0 {
				return n
			}
		case int64:
			if n > 0 {
				return int(n)
			}
		}
	}
	return pool.DefaultSize()
}

// Run executes the forward pass: every reachable task/section runs
// exactly once, in dependency order, on the shared worker pool.
func (e *Execution) Run(ctx context.Context) *Result {
	e.Ctx.SetPhase(execctx.PhaseRun)
	ctx = execctx.WithContext(ctx, e.Ctx)

	byName := make(map[string]*task.Descriptor, len(e.Graph.Descriptors()))
	for _, d := range e.Graph.Descriptors() {
		byName[d.Name] = d
	}

	aggErr := &taskerr.AggregateError{}
	durations := map[string]time.Duration{}
	pending := 0

	seed := func() {
		for _, d := range e.Scheduler.NextReadyRunTasks() {
			if aborted, _, _ := e.Ctx.AbortRequested(); aborted {
				break
			}
			e.submitRun(ctx, d)
			pending++
		}
	}

	seed()
	for pending > 0 {
		res := <-e.pool.Results()
		pending--

		d, ok := byName[res.Name]
		if !ok {
			continue
		}
		w := e.Registry.GetOrCreate(d)
		durations[d.Name] = w.Duration()

		if res.Err != nil {
			e.Ctx.NotifyStop(d, execctx.PhaseRun, res.Err)
			e.logger.Debug("executor: task failed", zap.String("task", d.Name), zap.Error(res.Err))
			skipped, err := e.Scheduler.MarkFailed(d)
			if err != nil {
				e.logger.Error("executor: invariant violation marking failure", zap.Error(err))
			}
			aggErr.Add(d.Name, wrapTaskError(d.Name, res.Err))
			for _, s := range skipped {
				e.Ctx.NotifySkip(s, "UpstreamFailed", d.Name)
			}
		} else {
			e.Ctx.NotifyStop(d, execctx.PhaseRun, nil)
			if err := e.Scheduler.MarkCompleted(d); err != nil {
				e.logger.Error("executor: invariant violation marking completion", zap.Error(err))
			}
			if d.Kind == task.KindSection {
				e.settleSection(d, w)
			}
		}

		seed()
	}

	aborted, abortedBy, _ := e.Ctx.AbortRequested()

	result := &Result{
		Completed: e.namesInState(scheduler.Completed),
		Skipped:   e.Scheduler.SkippedTaskClasses(),
		Failed:    e.failedNames(),
		Aborted:   aborted,
		AbortedBy: abortedBy,
		Duration:  durations,
	}
	switch {
	case aborted:
		result.Err = &taskerr.AbortError{TaskName: abortedBy}
	case !aggErr.Empty():
		result.Err = aggErr
	}
	return result
}

// settleSection skips every candidate the section did not select, with
// the same downstream-skip cascade a failure would trigger: a candidate
// nobody chose must never run, and neither must anything depending solely
// on it.
func (e *Execution) settleSection(d *task.Descriptor, w *wrapper.Wrapper) {
	selected := w.Selected()

	var candidateNames []string
	for _, c := range d.Candidates {
		candidateNames = append(candidateNames, c.Name)
	}
	e.Ctx.NotifySectionSelected(d, selected, candidateNames)

	for _, c := range d.Candidates {
		if c == selected {
			continue
		}
		if e.Scheduler.RunState(c) != scheduler.Pending {
			continue
		}
		skipped, err := e.Scheduler.MarkSkippedCascade(c)
		if err != nil {
			e.logger.Error("executor: failed to skip unselected candidate", zap.String("candidate", c.Name), zap.Error(err))
			continue
		}
		for _, s := range skipped {
			reason := "NotSelected"
			if s != c {
				reason = "UpstreamSkipped"
			}
			e.Ctx.NotifySkip(s, reason, d.Name)
		}
	}
}

func (e *Execution) submitRun(ctx context.Context, d *task.Descriptor) {
	if err := e.Scheduler.MarkEnqueued(d); err != nil {
		e.logger.Error("executor: double-enqueue prevented", zap.String("task", d.Name), zap.Error(err))
		return
	}
	w := e.Registry.GetOrCreate(d)
	if err := w.MarkEnqueued(); err != nil {
		e.logger.Error("executor: wrapper enqueue guard tripped", zap.String("task", d.Name), zap.Error(err))
		return
	}

	e.Ctx.NotifyReady(d)
	if err := e.Scheduler.MarkRunning(d); err != nil {
		e.logger.Error("executor: invariant violation marking running", zap.Error(err))
		return
	}
	e.Ctx.NotifyStart(d, execctx.PhaseRun)

	e.pool.Submit(pool.Job{
		Name: d.Name,
		Ctx:  ctx,
		Run: func(ctx context.Context) error {
			w.Start()
			err := e.Ctx.CaptureStdout(d, func() error {
				if d.Kind == task.KindSection {
					selected, serr := w.RunSection(ctx)
					if serr == nil {
						w.SetSelected(selected)
					}
					return serr
				}
				return w.RunTask(ctx)
			})
			w.Finish(err)
			return err
		},
	})
}

func wrapTaskError(name string, err error) error {
	if e, ok := err.(*taskerr.TaskError); ok {
		return e
	}
	return &taskerr.TaskError{TaskName: name, Cause: err}
}

func (e *Execution) namesInState(st scheduler.State) []string {
	var out []string
	for _, d := range e.Graph.Descriptors() {
		if e.Scheduler.RunState(d) == st {
			out = append(out, d.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Execution) failedNames() []string {
	var out []string
	for _, d := range e.Graph.Descriptors() {
		if e.Scheduler.RunState(d) == scheduler.Failed {
			out = append(out, d.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Shutdown stops the worker pool. It must be called exactly once, after
// both Run and (if performed) Clean have returned.
func (e *Execution) Shutdown() {
	e.pool.Close()
}
