package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

func recordedChain(t *testing.T, rec *Recorder) (*filters.WaveletSource, *pipeline.Executive) {
	t.Helper()
	wavelet := filters.NewWaveletSource(extent.New(0, 3, 0, 3, 0, 0))
	src := pipeline.MustNew(wavelet, pipeline.WithName("src"))
	sink := pipeline.MustNew(filters.NewShiftScale(filters.WaveletArray, 0, 2),
		pipeline.WithName("sink"),
		pipeline.WithInstrumentation(rec))
	if err := sink.SetInputConnection(0, src.OutputPort(0)); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	src.AddObserver(pipeline.EventAny, rec.Observe)
	sink.AddObserver(pipeline.EventAny, rec.Observe)
	return wavelet, sink
}

func dataExecutions(execs []*Execution) []*Execution {
	var out []*Execution
	for _, e := range execs {
		if e.Phase == string(pipeline.RequestData) {
			out = append(out, e)
		}
	}
	return out
}

func TestRecorder_RecordsPulls(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, "demo")
	_, sink := recordedChain(t, rec)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := sink.Update(ctx); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("recorder failed: %v", err)
	}

	pulls, err := store.ListPulls(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to list pulls: %v", err)
	}
	if len(pulls) != 2 {
		t.Fatalf("expected 2 pulls, got %d", len(pulls))
	}
	latest, first := pulls[0], pulls[1]
	if first.Status != PullStatusSucceeded || first.Executed != 2 || first.Pipeline != "demo" {
		t.Errorf("unexpected first pull: %+v", first)
	}
	if latest.Skipped != 2 || latest.Executed != 0 {
		t.Errorf("expected second pull served from cache, got %+v", latest)
	}

	execs, err := store.ListExecutions(ctx, first.ID)
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	data := dataExecutions(execs)
	if len(data) != 2 || data[0].Node != "src" || data[1].Node != "sink" {
		t.Fatalf("expected data executions src then sink, got %d", len(data))
	}
	for _, e := range data {
		if e.Outcome != OutcomeSucceeded || e.Request == "" {
			t.Errorf("unexpected execution: %+v", e)
		}
	}

	execs, err = store.ListExecutions(ctx, latest.ID)
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	for _, e := range dataExecutions(execs) {
		if e.Outcome != OutcomeSkipped {
			t.Errorf("expected skipped data execution on %s, got %s", e.Node, e.Outcome)
		}
	}
}

func TestRecorder_RecordsFailure(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, "demo")
	wavelet, sink := recordedChain(t, rec)
	wavelet.SetFail(errors.New("disk unplugged"))
	ctx := context.Background()

	if err := sink.Update(ctx); !pipeline.IsComputation(err) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("recorder failed: %v", err)
	}

	pulls, err := store.ListPulls(ctx, nil, 0, 0)
	if err != nil || len(pulls) != 1 {
		t.Fatalf("expected one pull, got %d (%v)", len(pulls), err)
	}
	p := pulls[0]
	if p.Status != PullStatusFailed || p.ErrorClass == nil || *p.ErrorClass != "computation" {
		t.Errorf("unexpected failed pull: %+v", p)
	}

	events, err := store.GetEvents(ctx, EventQuery{PullID: &p.ID, Level: levelPtr(EventLevelError)})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.Type] = true
		if ev.Node == nil || *ev.Node != "src" {
			t.Errorf("expected event on src, got %v", ev.Node)
		}
	}
	if !types["phase.failed"] || !types["executive.ErrorEvent"] {
		t.Errorf("expected phase.failed and executive.ErrorEvent, got %v", types)
	}
}

type failingStore struct {
	Store
}

func (failingStore) CreatePull(context.Context, *Pull) error { return errors.New("read-only") }
func (failingStore) CompletePull(context.Context, string, PullResult) error {
	return errors.New("read-only")
}
func (failingStore) RecordExecution(context.Context, *Execution) error { return errors.New("read-only") }
func (failingStore) AppendEvent(context.Context, *Event) error        { return errors.New("read-only") }

func TestRecorder_WriteErrorsDoNotFailPull(t *testing.T) {
	rec := NewRecorder(failingStore{}, "demo")
	_, sink := recordedChain(t, rec)

	if err := sink.Update(context.Background()); err != nil {
		t.Fatalf("expected pull to succeed despite store errors, got %v", err)
	}
	if rec.Err() == nil {
		t.Error("expected recorder to report write errors")
	}
}
