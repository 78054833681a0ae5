// Package analyzer implements the static dependency analyzer: an
// AST-level pass over a task's source that infers the set of tasks
// referenced by its Run (or Impl, for sections) body.
//
// Most DAG/workflow engines operate over dependency lists the caller
// already declared by hand. go/parser + go/ast + go/token is used
// directly here instead (a justified stdlib exception; see DESIGN.md):
// it is the idiomatic, and only plausible, way to do AST-level analysis
// of Go source from Go itself.
package analyzer

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"sync"

	"taski/internal/task"
)

// Mode selects whether a section's selector body contributes its
// candidate references to the result (visualisation) or not (execution).
// The two modes differ only in whether identifiers inside a section's
// Impl body are added to the discovered set.
type Mode int

const (
	// ModeExecution is used by the scheduler/graph builder: section
	// candidates are not discovered from the selector body (they come
	// from the Descriptor's statically declared Candidates instead, see
	// internal/task.RegisterSection), since selection happens at run time.
	ModeExecution Mode = iota
	// ModeVisualize additionally resolves every identifier referenced in
	// a section's Impl body, for diagnostic tree printing.
	ModeVisualize
)

// Error wraps a parse failure. A task whose source cannot be located or
// parsed produces an Error rather than silently returning no dependencies.
type Error struct {
	TaskName string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analyzing %q: %v", e.TaskName, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Analyzer parses and caches ASTs for task source files. Parsing is
// memoised per file so that analyzing many tasks declared in the same
// file only parses it once.
type Analyzer struct {
	fset *token.FileSet

	mu    sync.Mutex
	files map[string]*ast.File

	identOnce sync.Once
	// identIndex maps the bare Go identifier a Register/RegisterSection
	// call result is assigned to back to the Descriptor it produced, read
	// from the call's own literal Name argument rather than from Name
	// itself. This lets a Run/Impl body reference a dependency by its Go
	// variable name even when that name differs from the registered Name
	// (a namespaced "pkg.Task" Name assigned to a plain Task variable,
	// for instance).
	identIndex map[string]*task.Descriptor
}

// New creates an Analyzer with a fresh token.FileSet.
func New() *Analyzer {
	return &Analyzer{
		fset:  token.NewFileSet(),
		files: make(map[string]*ast.File),
	}
}

// ensureIdentIndex builds identIndex once, by parsing every currently
// registered Descriptor's source file and recording the identifier each
// Register/RegisterSection call result is bound to. Registration happens
// at package-init time, before any task ever runs, so by the time the
// first Analyze call is made every Descriptor that will ever exist
// already does.
func (a *Analyzer) ensureIdentIndex() {
	a.identOnce.Do(func() {
		a.identIndex = map[string]*task.Descriptor{}
		for _, d := range task.All() {
			file, err := a.parseFile(d.SourceFile)
			if err != nil {
				continue
			}
			for ident, name := range registerAliases(file) {
				if dep, ok := task.Lookup(name); ok {
					a.identIndex[ident] = dep
				}
			}
		}
	})
}

// registerAliases scans file's top-level var declarations for
// "X = pkg.Register(\"Name\", ...)" or "X = pkg.RegisterSection(\"Name\",
// ...)" calls (the package qualifier is not checked, since a re-exporting
// package such as a project's own root package commonly wraps these) and
// returns the identifier-to-Name mapping it finds.
func registerAliases(file *ast.File) map[string]string {
	aliases := map[string]string{}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.VAR {
			continue
		}
		for _, spec := range gen.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if i >= len(vs.Values) {
					continue
				}
				call, ok := vs.Values[i].(*ast.CallExpr)
				if !ok {
					continue
				}
				sel, ok := call.Fun.(*ast.SelectorExpr)
				if !ok || (sel.Sel.Name != "Register" && sel.Sel.Name != "RegisterSection") {
					continue
				}
				if len(call.Args) == 0 {
					continue
				}
				lit, ok := call.Args[0].(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					continue
				}
				unquoted, err := strconv.Unquote(lit.Value)
				if err != nil {
					continue
				}
				aliases[name.Name] = unquoted
			}
		}
	}
	return aliases
}

// Analyze returns the set of Descriptors that d statically depends on, in
// the given Mode. It never executes user code.
//
// Algorithm:
//  1. Locate the body: Run for KindTask, Impl for KindSection.
//  2. Parse the source file to an AST (cached per file).
//  3. Walk nodes within the method whose receiver type matches d.GoType.
//  4. Resolve every identifier/selector found, first against the
//     identifier aliases recorded from every Register/RegisterSection call
//     site, then by falling back to a bare internal/task.Lookup by the
//     identifier itself; a resolved Descriptor is accepted.
//  5. Deduplicate by Descriptor identity.
//
// A method body with no task references yields the empty set, which is
// legal. An unparseable source file surfaces as *Error.
func (a *Analyzer) Analyze(d *task.Descriptor, mode Mode) (map[*task.Descriptor]struct{}, error) {
	if d == nil {
		return nil, fmt.Errorf("analyzer: nil descriptor")
	}

	methodName := "Run"
	if d.Kind == task.KindSection {
		methodName = "Impl"
	}

	if d.Kind == task.KindSection && mode == ModeExecution {
		// Pure-selector contract (see DESIGN.md's Open Question
		// resolution): the execution-mode analyzer never derives section
		// dependencies from the selector body. Candidates come from the
		// Descriptor itself.
		return map[*task.Descriptor]struct{}{}, nil
	}

	file, err := a.parseFile(d.SourceFile)
	if err != nil {
		return nil, &Error{TaskName: d.Name, Cause: err}
	}

	fn := findMethod(file, d.GoType, methodName)
	if fn == nil || fn.Body == nil {
		// The file parsed but holds no such method (or the method has no
		// body): an empty set is legal here. A source file that cannot be
		// located or parsed was already reported as *Error above.
		return map[*task.Descriptor]struct{}{}, nil
	}

	a.ensureIdentIndex()

	found := map[*task.Descriptor]struct{}{}
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		ident := rootIdentName(n)
		if ident == "" {
			return true
		}
		if dep, ok := a.identIndex[ident]; ok {
			found[dep] = struct{}{}
			return true
		}
		if dep, ok := task.Lookup(ident); ok {
			found[dep] = struct{}{}
		}
		return true
	})

	return found, nil
}

func (a *Analyzer) parseFile(path string) (*ast.File, error) {
	if path == "" {
		return nil, fmt.Errorf("source file not locatable")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if f, ok := a.files[path]; ok {
		return f, nil
	}

	f, err := parser.ParseFile(a.fset, path, nil, 0)
	if err != nil {
		return nil, err
	}
	a.files[path] = f
	return f, nil
}

// findMethod locates the FuncDecl for a method with the given name whose
// receiver's (possibly pointer) type matches goType.
func findMethod(file *ast.File, goType, methodName string) *ast.FuncDecl {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != methodName || fn.Recv == nil || len(fn.Recv.List) == 0 {
			continue
		}
		if receiverTypeName(fn.Recv.List[0].Type) == goType {
			return fn
		}
	}
	return nil
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	default:
		return ""
	}
}

// rootIdentName extracts a single candidate identifier name to resolve
// against the static registry from a call argument, a selector expression,
// or a bare identifier. Call nodes whose Fun (not arguments) is itself a
// selector are also inspected so that e.g. `task.Get[...](ctx, UserTask,
// "name")` is seen the same as a bare reference to UserTask: in both cases
// the UserTask identifier appears as an *ast.Ident node during ast.Inspect
// and is resolved independently of its syntactic position.
func rootIdentName(n ast.Node) string {
	switch v := n.(type) {
	case *ast.Ident:
		return v.Name
	case *ast.SelectorExpr:
		// Only the final selector name is a candidate; package-qualified
		// references (pkg.Thing) resolve on Thing.
		return v.Sel.Name
	default:
		return ""
	}
}
