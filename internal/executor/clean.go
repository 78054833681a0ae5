package executor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taski/internal/execctx"
	"taski/internal/task"
	"taski/internal/taskerr"
	"taski/internal/wrapper"
)

// Clean runs the reverse pass: every task that completed during Run is
// offered a chance to clean up, in the reverse of the order it ran in
// (dependents clean before their dependencies). Clean failures are
// collected but never cascade: clean is best-effort.
//
// Unlike Run, Clean does not need a persistent pool: each wave of
// currently-ready clean tasks is bounded and short-lived, so it fans out
// with a fresh errgroup per wave instead, bounding one round of
// concurrent work before moving to the next.
func (e *Execution) Clean(ctx context.Context) *Result {
	e.Ctx.SetPhase(execctx.PhaseClean)
	ctx = execctx.WithContext(ctx, e.Ctx)

	aggErr := &taskerr.AggregateError{}

	for {
		wave := e.Scheduler.NextReadyCleanTasks()
		if len(wave) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(wave))

		results := make([]error, len(wave))
		for i, d := range wave {
			i, d := i, d
			w, ok := e.startClean(d)
			if !ok {
				continue
			}
			g.Go(func() error {
				results[i] = e.runClean(gctx, d, w)
				return nil
			})
		}
		_ = g.Wait()

		for i, d := range wave {
			err := results[i]
			if err != nil {
				aggErr.Add(d.Name, wrapTaskError(d.Name, err))
			}
		}
	}

	result := &Result{}
	if !aggErr.Empty() {
		result.Err = aggErr
	}
	return result
}

func (e *Execution) startClean(d *task.Descriptor) (*wrapper.Wrapper, bool) {
	if err := e.Scheduler.MarkCleanEnqueued(d); err != nil {
		e.logger.Error("executor: double clean-enqueue prevented", zap.String("task", d.Name), zap.Error(err))
		return nil, false
	}
	w := e.Registry.GetOrCreate(d)
	if err := e.Scheduler.MarkCleanRunning(d); err != nil {
		e.logger.Error("executor: invariant violation marking clean running", zap.Error(err))
		return nil, false
	}
	e.Ctx.NotifyStart(d, execctx.PhaseClean)
	return w, true
}

// runClean runs one task's clean step and folds the outcome back into the
// scheduler and observers. errgroup.Go requires its callback to return
// error only to abort the group early; Clean never aborts early on a
// single clean failure, so runClean always returns nil to the group and
// reports the real outcome through the results slice instead.
func (e *Execution) runClean(ctx context.Context, d *task.Descriptor, w *wrapper.Wrapper) error {
	w.StartClean()
	err := e.Ctx.CaptureStdout(d, func() error { return w.RunClean(ctx) })
	w.FinishClean(err)

	if err != nil {
		e.Ctx.NotifyStop(d, execctx.PhaseClean, err)
		if merr := e.Scheduler.MarkCleanFailed(d); merr != nil {
			e.logger.Error("executor: invariant violation marking clean failure", zap.Error(merr))
		}
		return err
	}

	e.Ctx.NotifyStop(d, execctx.PhaseClean, nil)
	if merr := e.Scheduler.MarkCleanCompleted(d); merr != nil {
		e.logger.Error("executor: invariant violation marking clean completion", zap.Error(merr))
	}
	return nil
}
