package analyzer

import (
	"context"
	"testing"

	"taski/internal/task"
)

func mustRegister(t *testing.T, name string) *task.Descriptor {
	t.Helper()
	return task.Register(name, nil, func() task.Task { return stubTask{} })
}

type stubTask struct{ task.Base }

func (stubTask) Run(ctx context.Context) error { return nil }

func TestAnalyze_FindsReferencedDescriptors(t *testing.T) {
	fetchSource := mustRegister(t, "FetchSource")
	compileStep := mustRegister(t, "CompileStep")

	d := &task.Descriptor{
		Name:       "BuildImage",
		Kind:       task.KindTask,
		GoType:     "BuildImage",
		SourceFile: "testdata/fixture.go",
	}

	a := New()
	deps, err := a.Analyze(d, ModeExecution)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := deps[fetchSource]; !ok {
		t.Error("expected FetchSource to be discovered")
	}
	if _, ok := deps[compileStep]; !ok {
		t.Error("expected CompileStep to be discovered")
	}
	if len(deps) != 2 {
		t.Fatalf("expected exactly 2 dependencies, got %d", len(deps))
	}
}

func TestAnalyze_EmptyBodyYieldsEmptySet(t *testing.T) {
	d := &task.Descriptor{
		Name:       "EmptyTask",
		Kind:       task.KindTask,
		GoType:     "EmptyTask",
		SourceFile: "testdata/fixture.go",
	}

	a := New()
	deps, err := a.Analyze(d, ModeExecution)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected no dependencies, got %v", deps)
	}
}

func TestAnalyze_ModeExecution_NeverDerivesSectionCandidates(t *testing.T) {
	d := &task.Descriptor{
		Name:       "PickBackend",
		Kind:       task.KindSection,
		GoType:     "PickBackend",
		SourceFile: "testdata/fixture.go",
	}

	a := New()
	deps, err := a.Analyze(d, ModeExecution)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected ModeExecution to skip selector body entirely, got %v", deps)
	}
}

func TestAnalyze_ModeVisualize_ResolvesSelectorBody(t *testing.T) {
	d := &task.Descriptor{
		Name:       "PickBackend",
		Kind:       task.KindSection,
		GoType:     "PickBackend",
		SourceFile: "testdata/fixture.go",
	}

	// The fixture's Impl body references the identifier "CandidateA".
	candidateA := task.Register("CandidateA", nil, func() task.Task { return stubTask{} })

	a := New()
	deps, err := a.Analyze(d, ModeVisualize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := deps[candidateA]; !ok {
		t.Fatalf("expected ModeVisualize to resolve CandidateA, got %v", deps)
	}
}

func TestAnalyze_UnparseableSourceSurfacesError(t *testing.T) {
	d := &task.Descriptor{
		Name:       "Ghost",
		Kind:       task.KindTask,
		GoType:     "Ghost",
		SourceFile: "testdata/does-not-exist.go",
	}

	a := New()
	if _, err := a.Analyze(d, ModeExecution); err == nil {
		t.Fatal("expected an error for an unparseable/missing source file")
	}
}

func TestAnalyze_NilDescriptor(t *testing.T) {
	a := New()
	if _, err := a.Analyze(nil, ModeExecution); err == nil {
		t.Fatal("expected an error for a nil descriptor")
	}
}

func TestAnalyze_CachesParsedFile(t *testing.T) {
	a := New()
	d1 := &task.Descriptor{Name: "BuildImage", Kind: task.KindTask, GoType: "BuildImage", SourceFile: "testdata/fixture.go"}
	d2 := &task.Descriptor{Name: "EmptyTask", Kind: task.KindTask, GoType: "EmptyTask", SourceFile: "testdata/fixture.go"}

	if _, err := a.Analyze(d1, ModeExecution); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.files["testdata/fixture.go"]; !ok {
		t.Fatal("expected the fixture file to be cached after the first Analyze")
	}
	cached := len(a.files)
	if _, err := a.Analyze(d2, ModeExecution); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.files) != cached {
		t.Fatalf("expected the second Analyze on the same file to reuse the cache, got %d entries, want %d", len(a.files), cached)
	}
}
