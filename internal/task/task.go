// Package task defines the user-facing building blocks of a task graph:
// the Task and Section interfaces, the Descriptor that identifies a task
// class statically as a comparable Go pointer (see DESIGN.md), and the
// exported-value storage every task body writes into.
//
// A Descriptor is created once, at package-init time, by calling Register
// or RegisterSection in the same source file that defines the task's Run
// (or Impl) method. The Analyzer (internal/analyzer) parses that file to
// discover the task's static dependencies; Register records the file via
// runtime.Caller so the Analyzer never has to be told about it by hand.
package task

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
)

// Kind distinguishes ordinary tasks from sections.
type Kind int

const (
	KindTask Kind = iota
	KindSection
)

func (k Kind) String() string {
	if k == KindSection {
		return "section"
	}
	return "task"
}

// Task is the minimal contract a task body implements.
type Task interface {
	Run(ctx context.Context) error
}

// Cleaner is implemented by tasks that need to do work during the reverse
// clean pass. Tasks that don't need cleanup simply don't implement it.
type Cleaner interface {
	Clean(ctx context.Context) error
}

// Section is a late-bound task: instead of a Run body it has a selector,
// Impl, that picks exactly one of its statically declared Candidates.
type Section interface {
	Impl(ctx context.Context) (*Descriptor, error)
}

// Descriptor is the unique, comparable identifier for one task class. Two
// Descriptors are the same task class iff they are the same pointer (see
// DESIGN.md). It is immutable after Register/RegisterSection returns.
type Descriptor struct {
	Name        string
	Kind        Kind
	GoType      string
	SourceFile  string
	ExportNames []string
	Candidates  []*Descriptor // only populated for KindSection

	newInstance func() any
}

func (d *Descriptor) String() string {
	if d == nil {
		return "<nil>"
	}
	return d.Name
}

// NewInstance constructs a fresh instance of the underlying task/section
// type. Called at most once per execution by the Registry.
func (d *Descriptor) NewInstance() any {
	return d.newInstance()
}

// staticIndexMu guards the package-level registry of every Descriptor ever
// created, keyed by Name. The Analyzer consults this index to resolve
// identifiers found in a task body back to Descriptors.
var (
	staticIndexMu sync.RWMutex
	staticIndex   = map[string]*Descriptor{}
)

// Lookup resolves a registered task/section by name. Used by the Analyzer
// to turn a source-level identifier into a Descriptor.
func Lookup(name string) (*Descriptor, bool) {
	staticIndexMu.RLock()
	defer staticIndexMu.RUnlock()
	d, ok := staticIndex[name]
	return d, ok
}

// All returns every currently registered Descriptor. Used by the Analyzer
// to build its identifier alias index.
func All() []*Descriptor {
	staticIndexMu.RLock()
	defer staticIndexMu.RUnlock()
	out := make([]*Descriptor, 0, len(staticIndex))
	for _, d := range staticIndex {
		out = append(out, d)
	}
	return out
}

func register(d *Descriptor) {
	staticIndexMu.Lock()
	defer staticIndexMu.Unlock()
	if _, exists := staticIndex[d.Name]; exists {
		panic(fmt.Sprintf("task: duplicate registration for %q", d.Name))
	}
	staticIndex[d.Name] = d
}

// Register declares an ordinary task class. factory must return a fresh
// instance implementing Task each time it is called; it must be called
// from the same file that defines the task's Run method, since that file
// is what the Analyzer parses. The package-level variable the call result
// is assigned to need not match name: the Analyzer reads the call site
// itself to learn which Go identifier stands for which Name, so a Run
// body can reference a dependency by its plain variable name even when
// name carries a namespace prefix the variable doesn't.
func Register(name string, exportNames []string, factory func() Task) *Descriptor {
	_, file, _, _ := runtime.Caller(1)
	goType := goTypeName(factory())

	d := &Descriptor{
		Name:        name,
		Kind:        KindTask,
		GoType:      goType,
		SourceFile:  file,
		ExportNames: append([]string(nil), exportNames...),
		newInstance: func() any { return factory() },
	}
	register(d)
	return d
}

// RegisterSection declares a section: a task whose implementation is
// chosen at run time by selectorFactory().Impl from among candidates.
// Candidates must themselves already be registered Descriptors — this is
// the explicit, statically-declared stand-in for runtime AST discovery of
// "every constant the selector could return" (see DESIGN.md's Open
// Question resolution): the graph builder adds each Candidate as a
// dependent of the section (a candidate waits for the selector to run),
// without needing to execute or even fully understand the selector body.
func RegisterSection(name string, exportNames []string, selectorFactory func() Section, candidates ...*Descriptor) *Descriptor {
	_, file, _, _ := runtime.Caller(1)
	goType := goTypeName(selectorFactory())

	d := &Descriptor{
		Name:        name,
		Kind:        KindSection,
		GoType:      goType,
		SourceFile:  file,
		ExportNames: append([]string(nil), exportNames...),
		Candidates:  append([]*Descriptor(nil), candidates...),
		newInstance: func() any { return selectorFactory() },
	}
	register(d)
	return d
}

func goTypeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// Base is embedded by task/section implementations to get exported-value
// storage for free. Exports are write-once: a second Export call for the
// same name is a programmer error and panics, since an exported value is
// identity-stable for the whole execution.
type Base struct {
	mu      sync.Mutex
	exports map[string]any
}

// Export stores a named value, making it visible to dependents via Get.
func (b *Base) Export(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exports == nil {
		b.exports = make(map[string]any)
	}
	if _, exists := b.exports[name]; exists {
		panic(fmt.Sprintf("task: export %q already set", name))
	}
	b.exports[name] = value
}

// exportValue is the read side used by the wrapper once a task has
// completed. It is unexported: dependents read values through ValueOf
// (or taski.Get, which reads the dependency's completed wrapper).
func (b *Base) exportValue(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.exports[name]
	return v, ok
}

// Exporter is implemented by Base; it lets the wrapper read exported
// values without knowing the concrete task type.
type Exporter interface {
	exportValue(name string) (any, bool)
}

var _ Exporter = (*Base)(nil)

// ValueOf reads a named exported value off a completed task instance,
// type-asserting it to T. It is the low-level primitive the ambient
// taski.Get accessor builds on; the scheduler's topological ordering is
// what guarantees inst has already run by the time a caller reaches here.
func ValueOf[T any](inst any, name string) (T, error) {
	var zero T
	exp, ok := inst.(Exporter)
	if !ok {
		return zero, fmt.Errorf("task: %T does not export values (missing task.Base)", inst)
	}
	raw, ok := exp.exportValue(name)
	if !ok {
		return zero, fmt.Errorf("task: export %q was never set", name)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("task: export %q has type %T, want %T", name, raw, zero)
	}
	return v, nil
}
