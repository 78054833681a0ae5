package trace

import (
	"github.com/google/uuid"

	"taski/internal/execctx"
	"taski/internal/task"
)

// RecorderObserver is an execctx.Observer that feeds every lifecycle
// notification into a Recorder, so a caller can obtain a byte-stable,
// hashable ExecutionTrace once an execution finishes. It carries no
// runtime-dependent details (no timestamps, no error text): OnStop records
// only whether the task failed, not the error's content.
type RecorderObserver struct {
	recorder  *Recorder
	graphHash string
}

// NewRecorderObserver builds an observer that records into a fresh
// Recorder. graphHash is an opaque caller-supplied identifier for the graph
// this execution ran over; a random UUID is a reasonable default when the
// caller has no better identity for the graph.
func NewRecorderObserver(graphHash string) *RecorderObserver {
	if graphHash == "" {
		graphHash = uuid.NewString()
	}
	return &RecorderObserver{recorder: NewRecorder(), graphHash: graphHash}
}

func (o *RecorderObserver) OnReady(d *task.Descriptor) {
	SafeRecord(o.recorder, TraceEvent{Kind: EventTaskReady, TaskName: d.Name})
}

func (o *RecorderObserver) OnStart(d *task.Descriptor, phase execctx.Phase) {
	SafeRecord(o.recorder, TraceEvent{Kind: EventTaskStarted, TaskName: d.Name, Phase: string(phase)})
}

func (o *RecorderObserver) OnStop(d *task.Descriptor, phase execctx.Phase, err error) {
	if err != nil {
		SafeRecord(o.recorder, TraceEvent{Kind: EventTaskFailed, TaskName: d.Name, Phase: string(phase)})
		return
	}
	SafeRecord(o.recorder, TraceEvent{Kind: EventTaskCompleted, TaskName: d.Name, Phase: string(phase)})
}

// OnSectionSelected implements execctx.SectionObserver.
func (o *RecorderObserver) OnSectionSelected(section, selected *task.Descriptor, candidates []string) {
	name := ""
	if selected != nil {
		name = selected.Name
	}
	SafeRecord(o.recorder, TraceEvent{
		Kind:       EventSectionSelected,
		TaskName:   section.Name,
		CauseTask:  name,
		Candidates: candidates,
	})
}

// OnSkip implements execctx.SkipObserver.
func (o *RecorderObserver) OnSkip(d *task.Descriptor, reason, causeTask string) {
	SafeRecord(o.recorder, TraceEvent{Kind: EventTaskSkipped, TaskName: d.Name, Reason: reason, CauseTask: causeTask})
}

// Trace returns the canonicalized trace recorded so far.
func (o *RecorderObserver) Trace() ExecutionTrace {
	return o.recorder.Trace(o.graphHash)
}
