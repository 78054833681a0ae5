// Package progress provides reference execctx.Observer implementations
// selected by the TASKI_PROGRESS_MODE environment variable, separating
// the inert event model (execctx.Observer) from where those events end
// up, the same way internal/trace separates TraceEvent from its Sink.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"taski/internal/execctx"
	"taski/internal/task"
)

// Mode selects a reference observer.
type Mode string

const (
	ModeTree   Mode = "tree"
	ModeSimple Mode = "simple"
	ModeLog    Mode = "log"
	ModePlain  Mode = "plain"
)

// FromEnv builds the Observer named by TASKI_PROGRESS_MODE, defaulting to
// ModeSimple when unset or unrecognized.
func FromEnv(w io.Writer, logger *zap.Logger) execctx.Observer {
	return New(Mode(os.Getenv("TASKI_PROGRESS_MODE")), w, logger)
}

// New builds the named Observer. w defaults to os.Stdout; logger defaults
// to a no-op logger (only ModeLog uses it).
func New(mode Mode, w io.Writer, logger *zap.Logger) execctx.Observer {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case ModeTree:
		return &treeObserver{w: w}
	case ModeLog:
		return &logObserver{logger: logger}
	case ModePlain:
		return &plainObserver{w: w}
	default:
		return &simpleObserver{w: w}
	}
}

// simpleObserver prints one line per start/stop, prefixed by phase.
type simpleObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *simpleObserver) OnReady(d *task.Descriptor) {}

func (o *simpleObserver) OnStart(d *task.Descriptor, phase execctx.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "[%s] %s started\n", phase, d.Name)
}

func (o *simpleObserver) OnStop(d *task.Descriptor, phase execctx.Phase, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		fmt.Fprintf(o.w, "[%s] %s failed: %v\n", phase, d.Name, err)
		return
	}
	fmt.Fprintf(o.w, "[%s] %s done\n", phase, d.Name)
}

// plainObserver prints only failures, for scripts that want silence on
// the happy path.
type plainObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *plainObserver) OnReady(d *task.Descriptor)                            {}
func (o *plainObserver) OnStart(d *task.Descriptor, phase execctx.Phase)        {}
func (o *plainObserver) OnStop(d *task.Descriptor, phase execctx.Phase, err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s: %v\n", d.Name, err)
}

// logObserver sends every lifecycle event through a structured logger.
type logObserver struct {
	logger *zap.Logger
}

func (o *logObserver) OnReady(d *task.Descriptor) {
	o.logger.Debug("task ready", zap.String("task", d.Name))
}

func (o *logObserver) OnStart(d *task.Descriptor, phase execctx.Phase) {
	o.logger.Info("task started", zap.String("task", d.Name), zap.String("phase", string(phase)))
}

func (o *logObserver) OnStop(d *task.Descriptor, phase execctx.Phase, err error) {
	if err != nil {
		o.logger.Warn("task failed", zap.String("task", d.Name), zap.String("phase", string(phase)), zap.Error(err))
		return
	}
	o.logger.Info("task completed", zap.String("task", d.Name), zap.String("phase", string(phase)))
}

// treeObserver renders a running count of active tasks rather than a
// scrolling log, loosely mirroring the kind of live tree view an agent
// orchestrator prints during a DAG run.
type treeObserver struct {
	mu     sync.Mutex
	w      io.Writer
	active int
}

func (o *treeObserver) OnReady(d *task.Descriptor) {}

func (o *treeObserver) OnStart(d *task.Descriptor, phase execctx.Phase) {
	o.mu.Lock()
	o.active++
	active := o.active
	o.mu.Unlock()
	fmt.Fprintf(o.w, "+ %-30s (%d running)\n", d.Name, active)
}

func (o *treeObserver) OnStop(d *task.Descriptor, phase execctx.Phase, err error) {
	o.mu.Lock()
	o.active--
	active := o.active
	o.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "FAILED: " + err.Error()
	}
	fmt.Fprintf(o.w, "- %-30s (%d running) %s\n", d.Name, active, status)
}
