package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"taski/internal/execctx"
	"taski/internal/task"
)

var progressDescriptor = task.Register("progress_test.Node", nil, func() task.Task { return &progressStub{} })

type progressStub struct{ task.Base }

func (t *progressStub) Run(ctx context.Context) error { return nil }

func TestNew_DefaultsToSimpleObserver(t *testing.T) {
	var buf bytes.Buffer
	o := New("", &buf, nil)
	if _, ok := o.(*simpleObserver); !ok {
		t.Fatalf("expected simpleObserver for an unrecognized mode, got %T", o)
	}
}

func TestNew_SelectsEachNamedMode(t *testing.T) {
	cases := map[Mode]any{
		ModeTree:   &treeObserver{},
		ModeLog:    &logObserver{},
		ModePlain:  &plainObserver{},
		ModeSimple: &simpleObserver{},
	}
	for mode, want := range cases {
		o := New(mode, &bytes.Buffer{}, nil)
		gotType := typeName(o)
		wantType := typeName(want)
		if gotType != wantType {
			t.Fatalf("mode %q: expected %s, got %s", mode, wantType, gotType)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *treeObserver:
		return "tree"
	case *logObserver:
		return "log"
	case *plainObserver:
		return "plain"
	case *simpleObserver:
		return "simple"
	default:
		return "unknown"
	}
}

func TestSimpleObserver_PrintsStartAndStop(t *testing.T) {
	var buf bytes.Buffer
	o := New(ModeSimple, &buf, nil)
	o.OnStart(progressDescriptor, execctx.PhaseRun)
	o.OnStop(progressDescriptor, execctx.PhaseRun, nil)

	out := buf.String()
	if !strings.Contains(out, "started") || !strings.Contains(out, "done") {
		t.Fatalf("expected start/done lines, got %q", out)
	}
}

func TestSimpleObserver_PrintsFailureReason(t *testing.T) {
	var buf bytes.Buffer
	o := New(ModeSimple, &buf, nil)
	o.OnStop(progressDescriptor, execctx.PhaseRun, errors.New("boom"))

	if !strings.Contains(buf.String(), "failed: boom") {
		t.Fatalf("expected a failure line mentioning the cause, got %q", buf.String())
	}
}

func TestPlainObserver_SilentOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	o := New(ModePlain, &buf, nil)
	o.OnStart(progressDescriptor, execctx.PhaseRun)
	o.OnStop(progressDescriptor, execctx.PhaseRun, nil)

	if buf.Len() != 0 {
		t.Fatalf("expected no output on the happy path, got %q", buf.String())
	}
}

func TestPlainObserver_ReportsFailure(t *testing.T) {
	var buf bytes.Buffer
	o := New(ModePlain, &buf, nil)
	o.OnStop(progressDescriptor, execctx.PhaseRun, errors.New("boom"))

	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("expected the failure cause in the output, got %q", buf.String())
	}
}

func TestTreeObserver_TracksActiveCount(t *testing.T) {
	var buf bytes.Buffer
	o := New(ModeTree, &buf, nil)
	o.OnStart(progressDescriptor, execctx.PhaseRun)
	o.OnStop(progressDescriptor, execctx.PhaseRun, nil)

	out := buf.String()
	if !strings.Contains(out, "1 running") || !strings.Contains(out, "0 running") {
		t.Fatalf("expected the active count to rise then fall, got %q", out)
	}
}

func TestLogObserver_DoesNotPanicOnNilLogger(t *testing.T) {
	o := New(ModeLog, nil, nil)
	o.OnReady(progressDescriptor)
	o.OnStart(progressDescriptor, execctx.PhaseRun)
	o.OnStop(progressDescriptor, execctx.PhaseRun, errors.New("boom"))
}
