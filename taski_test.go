package taski_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taski"
)

// Linear chain: FetchValue -> DoubleValue -> RecordResult.

var FetchValue = taski.Register("e2e.FetchValue", []string{"n"}, func() taski.Task { return &fetchValueTask{} })

type fetchValueTask struct{ taski.Base }

func (t *fetchValueTask) Run(ctx context.Context) error {
	t.Export("n", 21)
	return nil
}

var DoubleValue = taski.Register("e2e.DoubleValue", []string{"n"}, func() taski.Task { return &doubleValueTask{} })

type doubleValueTask struct{ taski.Base }

func (t *doubleValueTask) Run(ctx context.Context) error {
	n, err := taski.Get[int](ctx, FetchValue, "n")
	if err != nil {
		return err
	}
	t.Export("n", n*2)
	return nil
}

var RecordResult = taski.Register("e2e.RecordResult", nil, func() taski.Task { return &recordResultTask{} })

type recordResultTask struct {
	taski.Base
	got int
}

func (t *recordResultTask) Run(ctx context.Context) error {
	n, err := taski.Get[int](ctx, DoubleValue, "n")
	if err != nil {
		return err
	}
	t.got = n
	return nil
}

func TestExecute_LinearChain(t *testing.T) {
	result, err := taski.Execute(context.Background(), RecordResult)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e2e.FetchValue", "e2e.DoubleValue", "e2e.RecordResult"}, result.Completed)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Skipped)
	assert.False(t, result.Aborted)
}

// Diamond: Root -> {Left, Right} -> Join.

var DiamondRoot = taski.Register("e2e.DiamondRoot", []string{"base"}, func() taski.Task { return &diamondRootTask{} })

type diamondRootTask struct{ taski.Base }

func (t *diamondRootTask) Run(ctx context.Context) error {
	t.Export("base", 1)
	return nil
}

var DiamondLeft = taski.Register("e2e.DiamondLeft", []string{"v"}, func() taski.Task { return &diamondLeftTask{} })

type diamondLeftTask struct{ taski.Base }

func (t *diamondLeftTask) Run(ctx context.Context) error {
	base, err := taski.Get[int](ctx, DiamondRoot, "base")
	if err != nil {
		return err
	}
	t.Export("v", base+1)
	return nil
}

var DiamondRight = taski.Register("e2e.DiamondRight", []string{"v"}, func() taski.Task { return &diamondRightTask{} })

type diamondRightTask struct{ taski.Base }

func (t *diamondRightTask) Run(ctx context.Context) error {
	base, err := taski.Get[int](ctx, DiamondRoot, "base")
	if err != nil {
		return err
	}
	t.Export("v", base+2)
	return nil
}

var DiamondJoin = taski.Register("e2e.DiamondJoin", []string{"sum"}, func() taski.Task { return &diamondJoinTask{} })

type diamondJoinTask struct{ taski.Base }

func (t *diamondJoinTask) Run(ctx context.Context) error {
	l, err := taski.Get[int](ctx, DiamondLeft, "v")
	if err != nil {
		return err
	}
	r, err := taski.Get[int](ctx, DiamondRight, "v")
	if err != nil {
		return err
	}
	t.Export("sum", l+r)
	return nil
}

func TestExecute_DiamondDependencyBothBranchesRun(t *testing.T) {
	result, err := taski.Execute(context.Background(), DiamondJoin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"e2e.DiamondRoot", "e2e.DiamondLeft", "e2e.DiamondRight", "e2e.DiamondJoin",
	}, result.Completed)
}

// Cycle: CycleA <-> CycleB.

var CycleA = taski.Register("e2e.CycleA", nil, func() taski.Task { return &cycleATask{} })

type cycleATask struct{ taski.Base }

func (t *cycleATask) Run(ctx context.Context) error {
	_ = CycleB
	return nil
}

var CycleB = taski.Register("e2e.CycleB", nil, func() taski.Task { return &cycleBTask{} })

type cycleBTask struct{ taski.Base }

func (t *cycleBTask) Run(ctx context.Context) error {
	_ = CycleA
	return nil
}

func TestExecute_CycleSurfacesCycleError(t *testing.T) {
	_, err := taski.Execute(context.Background(), CycleA)
	require.Error(t, err)
	var cycleErr *taski.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Components)
}

// Section: PickPath chooses between PathA and PathB; PathB is never run.

var PathA = taski.Register("e2e.PathA", nil, func() taski.Task { return &pathATask{} })

type pathATask struct{ taski.Base }

func (t *pathATask) Run(ctx context.Context) error { return nil }

var PathB = taski.Register("e2e.PathB", nil, func() taski.Task { return &pathBTask{} })

type pathBTask struct{ taski.Base }

func (t *pathBTask) Run(ctx context.Context) error {
	panic("PathB must never run once PathA is selected")
}

var PickPath = taski.RegisterSection("e2e.PickPath", nil, func() taski.Section { return &pickPathSection{} }, PathA, PathB)

type pickPathSection struct{ taski.Base }

func (s *pickPathSection) Impl(ctx context.Context) (*taski.Descriptor, error) { return PathA, nil }

func TestExecute_SectionSkipsUnselectedCandidate(t *testing.T) {
	result, err := taski.Execute(context.Background(), PickPath)
	require.NoError(t, err)
	assert.Contains(t, result.Completed, "e2e.PathA")
	assert.Contains(t, result.Skipped, "e2e.PathB")
}

// Failure with downstream cascade: FailingRoot fails, everything
// downstream that never ran is Skipped rather than Completed.

var FailingRoot = taski.Register("e2e.FailingRoot", nil, func() taski.Task { return &failingRootTask{} })

type failingRootTask struct{ taski.Base }

func (t *failingRootTask) Run(ctx context.Context) error { return errors.New("deliberate failure") }

var FailingDownstream = taski.Register("e2e.FailingDownstream", nil, func() taski.Task { return &failingDownstreamTask{} })

type failingDownstreamTask struct{ taski.Base }

func (t *failingDownstreamTask) Run(ctx context.Context) error {
	_ = FailingRoot
	return nil
}

func TestExecute_FailureCascadesSkipDownstream(t *testing.T) {
	result, err := taski.Execute(context.Background(), FailingDownstream)
	require.Error(t, err)
	var aggErr *taski.AggregateError
	require.ErrorAs(t, err, &aggErr)
	assert.True(t, aggErr.Contains(&taski.TaskError{TaskName: "e2e.FailingRoot"}))
	assert.Contains(t, result.Failed, "e2e.FailingRoot")
	assert.Contains(t, result.Skipped, "e2e.FailingDownstream")
}

// Cooperative abort: AbortingRoot calls taski.Abort; AbortedDownstream
// depends on it and never gets a chance to run.

var AbortingRoot = taski.Register("e2e.AbortingRoot", nil, func() taski.Task { return &abortingRootTask{} })

type abortingRootTask struct{ taski.Base }

func (t *abortingRootTask) Run(ctx context.Context) error {
	taski.Abort(ctx, "e2e.AbortingRoot", "found what we needed")
	return nil
}

var AbortedDownstream = taski.Register("e2e.AbortedDownstream", nil, func() taski.Task { return &abortedDownstreamTask{} })

type abortedDownstreamTask struct{ taski.Base }

func (t *abortedDownstreamTask) Run(ctx context.Context) error {
	_ = AbortingRoot
	return nil
}

func TestExecute_AbortPreventsFurtherTasksFromStarting(t *testing.T) {
	result, err := taski.Execute(context.Background(), AbortedDownstream)
	require.Error(t, err)
	var abortErr *taski.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, "e2e.AbortingRoot", abortErr.TaskName)
	assert.True(t, result.Aborted)
	assert.Equal(t, "e2e.AbortingRoot", result.AbortedBy)
}

// Clean pass: both leaves get a chance to clean even though one of them
// fails to, since clean is best-effort and does not cascade.

var CleanLeafOK = taski.Register("e2e.CleanLeafOK", nil, func() taski.Task { return &cleanLeafOKTask{} })

type cleanLeafOKTask struct {
	taski.Base
	cleaned bool
}

func (t *cleanLeafOKTask) Run(ctx context.Context) error   { return nil }
func (t *cleanLeafOKTask) Clean(ctx context.Context) error { t.cleaned = true; return nil }

var CleanLeafFails = taski.Register("e2e.CleanLeafFails", nil, func() taski.Task { return &cleanLeafFailsTask{} })

type cleanLeafFailsTask struct{ taski.Base }

func (t *cleanLeafFailsTask) Run(ctx context.Context) error   { return nil }
func (t *cleanLeafFailsTask) Clean(ctx context.Context) error { return errors.New("cleanup broke") }

var CleanRoot = taski.Register("e2e.CleanRoot", nil, func() taski.Task { return &cleanRootTask{} })

type cleanRootTask struct{ taski.Base }

func (t *cleanRootTask) Run(ctx context.Context) error {
	_ = CleanLeafOK
	_ = CleanLeafFails
	return nil
}

func TestExecute_CleanFailureDoesNotBlockSiblingCleanup(t *testing.T) {
	result, err := taski.Execute(context.Background(), CleanRoot)
	require.NoError(t, err)
	assert.Contains(t, result.CleanFailed, "e2e.CleanLeafFails")
	assert.NotContains(t, result.CleanFailed, "e2e.CleanLeafOK")
	assert.NotContains(t, result.CleanFailed, "e2e.CleanRoot")
}
