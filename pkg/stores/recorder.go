package stores

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gridflow/gridflow/pkg/pipeline"
)

// Recorder writes pull history to a Store. It implements
// pipeline.Instrumentation; attach it to a terminal with
// pipeline.WithInstrumentation, possibly inside a MultiInstrumentation.
//
// Instrumentation hooks cannot fail a pull, so write errors are collected
// and reported by Err.
type Recorder struct {
	store    Store
	pipeline string

	mu   sync.Mutex
	errs []error
}

// NewRecorder records into store, tagging pulls with the pipeline name.
func NewRecorder(store Store, pipelineName string) *Recorder {
	return &Recorder{store: store, pipeline: pipelineName}
}

// Err returns the write errors seen so far, joined.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func (r *Recorder) keep(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *Recorder) PullStarted(ctx context.Context, p pipeline.PullInfo) context.Context {
	r.keep(r.store.CreatePull(context.WithoutCancel(ctx), &Pull{
		ID:       p.ID,
		Pipeline: r.pipeline,
		Terminal: p.Terminal,
		Port:     p.Port,
		Mode:     p.Mode,
		Nodes:    p.Nodes,
	}))
	return ctx
}

func (r *Recorder) PullFinished(ctx context.Context, p pipeline.PullInfo, s pipeline.PullStats, err error) {
	res := PullResult{
		Status:          PullStatusSucceeded,
		Executed:        s.Executed,
		Skipped:         s.Skipped,
		InformationRuns: s.InformationRuns,
		Duration:        s.Duration,
	}
	if err != nil {
		res.Status = PullStatusFailed
		msg := err.Error()
		res.Error = &msg
		var pe *pipeline.Error
		if errors.As(err, &pe) {
			class := string(pe.Class)
			res.ErrorClass = &class
		}
	}
	r.keep(r.store.CompletePull(context.WithoutCancel(ctx), p.ID, res))
}

func (r *Recorder) PhaseStarted(ctx context.Context, _ pipeline.PhaseInfo) context.Context {
	return ctx
}

func (r *Recorder) PhaseFinished(ctx context.Context, ph pipeline.PhaseInfo, d time.Duration, err error) {
	ctx = context.WithoutCancel(ctx)
	exec := r.execution(ph, OutcomeSucceeded)
	exec.Duration = d
	exec.StartedAt = time.Now().UTC().Add(-d)
	if err != nil {
		exec.Outcome = OutcomeFailed
		msg := err.Error()
		exec.Error = &msg
	}
	r.keep(r.store.RecordExecution(ctx, exec))

	if err != nil {
		r.keep(r.store.AppendEvent(ctx, phaseFailure(ph, err)))
	}
}

func (r *Recorder) PhaseSkipped(ctx context.Context, ph pipeline.PhaseInfo) {
	r.keep(r.store.RecordExecution(context.WithoutCancel(ctx), r.execution(ph, OutcomeSkipped)))
}

func (r *Recorder) execution(ph pipeline.PhaseInfo, outcome Outcome) *Execution {
	exec := &Execution{
		PullID:    ph.PullID,
		Node:      ph.Node,
		Algorithm: ph.Algorithm,
		Phase:     string(ph.Phase),
		Outcome:   outcome,
		Reason:    ph.Reason,
	}
	if ph.Phase == pipeline.RequestData {
		exec.Request = ph.Request.String()
	}
	return exec
}

func phaseFailure(ph pipeline.PhaseInfo, err error) *Event {
	pullID, node := ph.PullID, ph.Node
	ev := &Event{
		PullID:  &pullID,
		Node:    &node,
		Level:   EventLevelError,
		Type:    "phase.failed",
		Message: err.Error(),
	}
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		if details, jerr := json.Marshal(pe); jerr == nil {
			s := string(details)
			ev.Details = &s
		}
	}
	return ev
}

// Observe stores executive events worth keeping: warnings and errors.
// Register it with Executive.AddObserver(pipeline.EventAny, rec.Observe).
func (r *Recorder) Observe(ev pipeline.Event) {
	var level EventLevel
	switch ev.Type {
	case pipeline.EventWarning:
		level = EventLevelWarning
	case pipeline.EventError:
		level = EventLevelError
	default:
		return
	}
	stored := &Event{
		Level:     level,
		Type:      "executive." + string(ev.Type),
		Message:   ev.Message,
		Timestamp: ev.Time.UTC(),
	}
	if ev.PullID != "" {
		id := ev.PullID
		stored.PullID = &id
	}
	if ev.Node != "" {
		node := ev.Node
		stored.Node = &node
	}
	r.keep(r.store.AppendEvent(context.Background(), stored))
}
