// Package graphfixture provides real, on-disk task types for graph_test.go
// to build an analyzer.Analyzer over: the analyzer parses actual Go
// source, so graph tests need genuine files rather than constructed
// descriptors.
package graphfixture

import (
	"context"

	"taski/internal/task"
)

// RootA has no dependencies.
var RootA = task.Register("RootA", nil, func() task.Task { return &rootA{} })

type rootA struct{ task.Base }

func (t *rootA) Run(ctx context.Context) error { return nil }

// NodeB and NodeC both depend on RootA, forming the top half of a diamond.
var NodeB = task.Register("NodeB", nil, func() task.Task { return &nodeB{} })

type nodeB struct{ task.Base }

func (t *nodeB) Run(ctx context.Context) error {
	_ = RootA
	return nil
}

var NodeC = task.Register("NodeC", nil, func() task.Task { return &nodeC{} })

type nodeC struct{ task.Base }

func (t *nodeC) Run(ctx context.Context) error {
	_ = RootA
	return nil
}

// NodeD depends on both NodeB and NodeC, closing the diamond.
var NodeD = task.Register("NodeD", nil, func() task.Task { return &nodeD{} })

type nodeD struct{ task.Base }

func (t *nodeD) Run(ctx context.Context) error {
	_ = NodeB
	_ = NodeC
	return nil
}

// NodeX and NodeY depend on each other, a two-node cycle.
var NodeX = task.Register("NodeX", nil, func() task.Task { return &nodeX{} })

type nodeX struct{ task.Base }

func (t *nodeX) Run(ctx context.Context) error {
	_ = NodeY
	return nil
}

var NodeY = task.Register("NodeY", nil, func() task.Task { return &nodeY{} })

type nodeY struct{ task.Base }

func (t *nodeY) Run(ctx context.Context) error {
	_ = NodeX
	return nil
}

// Selfie depends on itself.
var Selfie = task.Register("Selfie", nil, func() task.Task { return &selfie{} })

type selfie struct{ task.Base }

func (t *selfie) Run(ctx context.Context) error {
	_ = Selfie
	return nil
}

// CandA and CandB are plain leaf tasks used as a section's candidates.
var CandA = task.Register("CandA", nil, func() task.Task { return &candA{} })

type candA struct{ task.Base }

func (t *candA) Run(ctx context.Context) error { return nil }

var CandB = task.Register("CandB", nil, func() task.Task { return &candB{} })

type candB struct{ task.Base }

func (t *candB) Run(ctx context.Context) error { return nil }

// Pick is a section choosing between CandA and CandB.
var Pick = task.RegisterSection("Pick", nil, func() task.Section { return &pick{} }, CandA, CandB)

type pick struct{ task.Base }

func (s *pick) Impl(ctx context.Context) (*task.Descriptor, error) { return CandA, nil }
