// Package graph builds and validates the dependency graph discovered by
// the analyzer, adapting the canonicalization, acyclicity proof, and
// depth computation of a flat-task-list DAG builder to a graph that is
// discovered lazily from a root descriptor instead of supplied up front.
package graph

import (
	"container/heap"
	"fmt"
	"sort"

	"taski/internal/analyzer"
	"taski/internal/task"
	"taski/internal/taskerr"
)

// node is an internal record for one discovered task/section.
type node struct {
	desc           *task.Descriptor
	canonicalIndex int
}

// Graph is an immutable, validated DAG over *task.Descriptor. It is safe
// for concurrent read access once Build has returned successfully.
type Graph struct {
	root *task.Descriptor

	byDescriptor map[*task.Descriptor]*node
	nodes        []*node // canonical order

	outgoing [][]int // by canonical index, sorted ascending: dependents
	incoming [][]int // by canonical index, sorted ascending: deps (must run first)
	indeg    []int   // count of unmet dependencies, by canonical index
	depth    []int   // longest-path depth from any root, by canonical index
}

// Build discovers the full reachable graph from root by repeatedly
// invoking the analyzer on newly found descriptors (a worklist
// fixed-point, since the analyzer only reports one node's direct
// dependencies at a time), then validates and canonicalizes it exactly as
// internal/dag.NewTaskGraph does: reject self-loops, reject cycles, sort
// nodes into a stable canonical order, compute depth by longest path.
func Build(root *task.Descriptor, an *analyzer.Analyzer, mode analyzer.Mode) (*Graph, error) {
	if root == nil {
		return nil, fmt.Errorf("graph: nil root descriptor")
	}

	discovered := map[*task.Descriptor]struct{}{root: {}}
	queue := []*task.Descriptor{root}
	edgeSet := map[[2]*task.Descriptor]struct{}{}
	var edges [][2]*task.Descriptor // [dependency, dependent]

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		deps, err := an.Analyze(d, mode)
		if err != nil {
			return nil, err
		}

		addEdge := func(dependency, dependent *task.Descriptor) error {
			if dependency == dependent {
				return &Error{Kind: ErrSelfDependency, Msg: fmt.Sprintf("%q depends on itself", dependent.Name)}
			}
			key := [2]*task.Descriptor{dependency, dependent}
			if _, dup := edgeSet[key]; !dup {
				edgeSet[key] = struct{}{}
				edges = append(edges, key)
			}
			if _, seen := discovered[dependency]; !seen {
				discovered[dependency] = struct{}{}
				queue = append(queue, dependency)
			}
			return nil
		}

		for dep := range deps {
			if err := addEdge(dep, d); err != nil {
				return nil, err
			}
		}

		// A section's candidates do not run until the section's selector
		// has decided (an unselected candidate must never run at all), so
		// the edge runs the opposite way from an ordinary dependency: the
		// section is the dependency, and each candidate is a dependent
		// that waits on it.
		if d.Kind == task.KindSection {
			for _, c := range d.Candidates {
				if err := addEdge(d, c); err != nil {
					return nil, err
				}
			}
		}
	}

	return assemble(root, discovered, edges)
}

// BuildFromCached builds a Graph from a pre-computed dependency map instead
// of invoking the Analyzer: callers that persist the edges a prior Build
// discovered (e.g. alongside a compiled binary, where the source tree that
// produced them may not even be present) can reconstruct the same Graph
// without re-parsing anything. dependencies maps each reachable descriptor
// to its direct dependencies; root must be one of its keys. Section
// candidate edges are re-derived from each section Descriptor's own
// Candidates field, exactly as Build does, rather than read from the map.
func BuildFromCached(root *task.Descriptor, dependencies map[*task.Descriptor][]*task.Descriptor) (*Graph, error) {
	if root == nil {
		return nil, fmt.Errorf("graph: nil root descriptor")
	}
	if _, ok := dependencies[root]; !ok {
		return nil, fmt.Errorf("graph: root %q missing from cached dependencies", root.Name)
	}

	discovered := map[*task.Descriptor]struct{}{}
	edgeSet := map[[2]*task.Descriptor]struct{}{}
	var edges [][2]*task.Descriptor

	addEdge := func(dependency, dependent *task.Descriptor) error {
		if dependency == dependent {
			return &Error{Kind: ErrSelfDependency, Msg: fmt.Sprintf("%q depends on itself", dependent.Name)}
		}
		key := [2]*task.Descriptor{dependency, dependent}
		if _, dup := edgeSet[key]; !dup {
			edgeSet[key] = struct{}{}
			edges = append(edges, key)
		}
		return nil
	}

	var visit func(d *task.Descriptor) error
	visit = func(d *task.Descriptor) error {
		if _, ok := discovered[d]; ok {
			return nil
		}
		discovered[d] = struct{}{}

		for _, dep := range dependencies[d] {
			if err := addEdge(dep, d); err != nil {
				return err
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		if d.Kind == task.KindSection {
			for _, c := range d.Candidates {
				if err := addEdge(d, c); err != nil {
					return err
				}
				if err := visit(c); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}

	return assemble(root, discovered, edges)
}

// assemble canonicalizes a discovered node set and edge list into a
// validated Graph: sort nodes into a stable order, build adjacency and
// indegree, prove acyclicity, then compute depth. Both Build and
// BuildFromCached funnel through this once they've each discovered the
// reachable set their own way.
func assemble(root *task.Descriptor, discovered map[*task.Descriptor]struct{}, edges [][2]*task.Descriptor) (*Graph, error) {
	nodes := make([]*node, 0, len(discovered))
	for d := range discovered {
		nodes = append(nodes, &node{desc: d})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].desc.Name < nodes[j].desc.Name })
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	byDescriptor := make(map[*task.Descriptor]*node, len(nodes))
	for _, n := range nodes {
		byDescriptor[n.desc] = n
	}

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range edges {
		from := byDescriptor[e[0]].canonicalIndex // dependency
		to := byDescriptor[e[1]].canonicalIndex    // dependent
		outgoing[from] = append(outgoing[from], to)
		incoming[to] = append(incoming[to], from)
		indeg[to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
		sort.Ints(incoming[i])
	}

	g := &Graph{
		root:         root,
		byDescriptor: byDescriptor,
		nodes:        nodes,
		outgoing:     outgoing,
		incoming:     incoming,
		indeg:        indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()

	return g, nil
}

// Root returns the descriptor the graph was built from.
func (g *Graph) Root() *task.Descriptor { return g.root }

// Descriptors returns every discovered descriptor in canonical order.
func (g *Graph) Descriptors() []*task.Descriptor {
	out := make([]*task.Descriptor, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.desc
	}
	return out
}

// Dependencies returns the direct dependencies of d (tasks that must
// complete before d can run).
func (g *Graph) Dependencies(d *task.Descriptor) []*task.Descriptor {
	n, ok := g.byDescriptor[d]
	if !ok {
		return nil
	}
	out := make([]*task.Descriptor, 0, len(g.incoming[n.canonicalIndex]))
	for _, idx := range g.incoming[n.canonicalIndex] {
		out = append(out, g.nodes[idx].desc)
	}
	return out
}

// Dependents returns the direct dependents of d (tasks waiting on d).
func (g *Graph) Dependents(d *task.Descriptor) []*task.Descriptor {
	n, ok := g.byDescriptor[d]
	if !ok {
		return nil
	}
	out := make([]*task.Descriptor, 0, len(g.outgoing[n.canonicalIndex]))
	for _, idx := range g.outgoing[n.canonicalIndex] {
		out = append(out, g.nodes[idx].desc)
	}
	return out
}

// Depth returns the longest-path depth of d from any root dependency.
func (g *Graph) Depth(d *task.Descriptor) int {
	n, ok := g.byDescriptor[d]
	if !ok {
		return 0
	}
	return g.depth[n.canonicalIndex]
}

// InitialIndegree returns the number of unmet dependencies for d at the
// start of an execution, for scheduler seeding.
func (g *Graph) InitialIndegree(d *task.Descriptor) int {
	n, ok := g.byDescriptor[d]
	if !ok {
		return 0
	}
	return g.indeg[n.canonicalIndex]
}

// TopologicalOrder returns a deterministic topological ordering of
// descriptors. Since the graph was validated at Build time this cannot
// fail.
func (g *Graph) TopologicalOrder() []*task.Descriptor {
	order := g.topoOrderIndices()
	out := make([]*task.Descriptor, 0, len(order))
	for _, idx := range order {
		out = append(out, g.nodes[idx].desc)
	}
	return out
}

// ErrorKind distinguishes why graph construction failed.
type ErrorKind int

const (
	ErrSelfDependency ErrorKind = iota
	ErrCycle
)

// Error reports a graph construction failure not already carried by
// *taskerr.CycleError.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// validateAcyclic proves the graph has no cycles using Kahn's algorithm,
// same as internal/dag.validateAcyclic; on failure it runs Tarjan's
// algorithm over the whole graph and reports every strongly connected
// component of more than one node, so the returned *taskerr.CycleError
// can name the whole loop.
func (g *Graph) validateAcyclic() error {
	order := g.topoOrderIndices()
	if len(order) == len(g.nodes) {
		return nil
	}
	return &taskerr.CycleError{Components: g.StronglyConnectedComponents()}
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of node
// indices via Kahn's algorithm with a min-heap ready queue, exactly as
// internal/dag.topoOrderIndices does.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// StronglyConnectedComponents runs Tarjan's algorithm and returns every
// component of size greater than one as a name slice, in discovery order.
// This generalizes internal/dag.findCycleDeterministic (a single witness
// path) to name every cycle at once, since a malformed graph can contain
// more than one independent loop. Exposed for diagnostics: a caller
// inspecting a Graph it built itself (outside of the acyclicity check
// Build/BuildFromCached already perform) can use it to explain a cycle
// without forcing an error path.
func (g *Graph) StronglyConnectedComponents() [][]string {
	n := len(g.nodes)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	counter := 0
	var out [][]string

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.outgoing[v] {
			if index[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var comp []int
			for {
				top := len(stack) - 1
				w := stack[top]
				stack = stack[:top]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 {
				names := make([]string, len(comp))
				for i, idx := range comp {
					names[i] = g.nodes[idx].desc.Name
				}
				sort.Strings(names)
				out = append(out, names)
			}
		}
	}

	for i := 0; i < n; i++ {
		if index[i] == -1 {
			strongconnect(i)
		}
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	order := g.topoOrderIndices()
	for _, u := range order {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}
