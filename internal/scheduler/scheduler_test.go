package scheduler

import (
	"testing"

	"taski/internal/analyzer"
	"taski/internal/graph"
	"taski/internal/graph/graphfixture"
	"taski/internal/task"
)

func TestNew_SeedsEverythingPending(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)
	for _, d := range g.Descriptors() {
		if s.RunState(d) != Pending {
			t.Fatalf("expected %q to start Pending, got %s", d.Name, s.RunState(d))
		}
		if s.CleanState(d) != Pending {
			t.Fatalf("expected %q clean state to start Pending, got %s", d.Name, s.CleanState(d))
		}
	}
}

func TestNextReadyRunTasks_OnlyRootInitially(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)

	ready := s.NextReadyRunTasks()
	if len(ready) != 1 || ready[0] != graphfixture.RootA {
		t.Fatalf("expected only RootA ready, got %v", ready)
	}
}

func TestMarkFailed_CascadesSkipToDependents(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)

	mustTransitionToRunning(t, s, graphfixture.RootA)
	skipped, err := s.MarkFailed(graphfixture.RootA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := map[string]bool{}
	for _, d := range skipped {
		names[d.Name] = true
	}
	if !names["NodeB"] || !names["NodeC"] || !names["NodeD"] {
		t.Fatalf("expected NodeB, NodeC, NodeD all skipped, got %v", skipped)
	}
	if s.RunState(graphfixture.RootA) != Failed {
		t.Fatalf("expected RootA Failed, got %s", s.RunState(graphfixture.RootA))
	}
	if s.CleanState(graphfixture.NodeB) != Skipped {
		t.Fatalf("expected NodeB clean-Skipped since it never ran")
	}
}

func TestMarkFailed_InvalidTransitionErrors(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)

	if _, err := s.MarkFailed(graphfixture.RootA); err == nil {
		t.Fatal("expected an error failing a task that was never Running")
	}
}

func TestMarkSkippedCascade_UnselectedCandidateAndDownstream(t *testing.T) {
	g := mustBuild(t, graphfixture.Pick)
	s := New(g)

	skipped, err := s.MarkSkippedCascade(graphfixture.CandB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != graphfixture.CandB {
		t.Fatalf("expected only CandB itself skipped (no dependents), got %v", skipped)
	}
	if s.RunState(graphfixture.CandB) != Skipped {
		t.Fatalf("expected CandB Skipped, got %s", s.RunState(graphfixture.CandB))
	}
	if s.RunState(graphfixture.CandA) != Pending {
		t.Fatalf("expected CandA to remain Pending, got %s", s.RunState(graphfixture.CandA))
	}
}

func TestNextReadyCleanTasks_ReverseOfRunOrder(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)

	completeAll(t, s, g)

	ready := s.NextReadyCleanTasks()
	if len(ready) != 1 || ready[0] != graphfixture.NodeD {
		t.Fatalf("expected only NodeD (nothing depends on it) ready to clean first, got %v", ready)
	}

	if err := s.MarkCleanEnqueued(graphfixture.NodeD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkCleanRunning(graphfixture.NodeD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkCleanCompleted(graphfixture.NodeD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready = s.NextReadyCleanTasks()
	names := map[string]bool{}
	for _, d := range ready {
		names[d.Name] = true
	}
	if !names["NodeB"] || !names["NodeC"] {
		t.Fatalf("expected NodeB and NodeC ready to clean once NodeD finished cleaning, got %v", ready)
	}
}

func TestMarkCleanFailed_DoesNotCascade(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)
	completeAll(t, s, g)

	if err := s.MarkCleanEnqueued(graphfixture.NodeD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkCleanRunning(graphfixture.NodeD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkCleanFailed(graphfixture.NodeD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// NodeB/NodeC remain clean-Pending and become ready regardless of
	// NodeD's clean failure: clean is best-effort, not cascading.
	ready := s.NextReadyCleanTasks()
	names := map[string]bool{}
	for _, d := range ready {
		names[d.Name] = true
	}
	if !names["NodeB"] || !names["NodeC"] {
		t.Fatalf("expected NodeB/NodeC still ready after NodeD's clean failure, got %v", ready)
	}
}

func TestRunPending_FalseOnceEverythingTerminal(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)
	if !s.RunPending() {
		t.Fatal("expected RunPending true before anything has run")
	}
	completeAll(t, s, g)
	if s.RunPending() {
		t.Fatal("expected RunPending false once every task completed")
	}
}

func TestSkippedTaskClasses_SortedNames(t *testing.T) {
	g := mustBuild(t, graphfixture.NodeD)
	s := New(g)
	mustTransitionToRunning(t, s, graphfixture.RootA)
	if _, err := s.MarkFailed(graphfixture.RootA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := s.SkippedTaskClasses()
	want := []string{"NodeB", "NodeC", "NodeD"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func mustBuild(t *testing.T, root *task.Descriptor) *graph.Graph {
	t.Helper()
	an := analyzer.New()
	g, err := graph.Build(root, an, analyzer.ModeExecution)
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}
	return g
}

func mustTransitionToRunning(t *testing.T, s *Scheduler, d *task.Descriptor) {
	t.Helper()
	if err := s.MarkEnqueued(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkRunning(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func completeAll(t *testing.T, s *Scheduler, g *graph.Graph) {
	t.Helper()
	for _, d := range g.TopologicalOrder() {
		if err := s.MarkEnqueued(d); err != nil {
			t.Fatalf("unexpected error enqueueing %q: %v", d.Name, err)
		}
		if err := s.MarkRunning(d); err != nil {
			t.Fatalf("unexpected error running %q: %v", d.Name, err)
		}
		if err := s.MarkCompleted(d); err != nil {
			t.Fatalf("unexpected error completing %q: %v", d.Name, err)
		}
	}
}
