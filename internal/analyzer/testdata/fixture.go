package fixture

import "context"

// BuildImage's Run body references two other task identifiers, the shape
// the analyzer is expected to discover.
type BuildImage struct{}

func (t *BuildImage) Run(ctx context.Context) error {
	_ = FetchSource
	_ = CompileStep
	return nil
}

// EmptyTask has a body with no task references: the analyzer must return
// the empty set, not an error.
type EmptyTask struct{}

func (t *EmptyTask) Run(ctx context.Context) error {
	return nil
}

// PickBackend is a section selector whose body references a candidate by
// name, exercising ModeVisualize's extra resolution pass.
type PickBackend struct{}

func (s *PickBackend) Impl(ctx context.Context) (interface{}, error) {
	_ = CandidateA
	return nil, nil
}
