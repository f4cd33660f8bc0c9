package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// migrating twice is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"pulls", "executions", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestPullLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pull := &Pull{ID: "pull-1", Pipeline: "demo", Terminal: "sink", Mode: "data", Nodes: 3}
	if err := store.CreatePull(ctx, pull); err != nil {
		t.Fatalf("failed to create pull: %v", err)
	}

	got, err := store.GetPull(ctx, "pull-1")
	if err != nil {
		t.Fatalf("failed to get pull: %v", err)
	}
	if got.Status != PullStatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("expected no completion time for a running pull")
	}
	if got.Nodes != 3 || got.Terminal != "sink" || got.Pipeline != "demo" {
		t.Errorf("unexpected pull: %+v", got)
	}

	msg, class := "boom", "computation"
	if err := store.CompletePull(ctx, "pull-1", PullResult{
		Status:     PullStatusFailed,
		Executed:   2,
		Skipped:    1,
		Duration:   1500 * time.Millisecond,
		Error:      &msg,
		ErrorClass: &class,
	}); err != nil {
		t.Fatalf("failed to complete pull: %v", err)
	}

	got, err = store.GetPull(ctx, "pull-1")
	if err != nil {
		t.Fatalf("failed to get pull: %v", err)
	}
	if got.Status != PullStatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.Executed != 2 || got.Skipped != 1 {
		t.Errorf("expected 2 executed 1 skipped, got %d/%d", got.Executed, got.Skipped)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %s", got.Duration)
	}
	if got.Error == nil || *got.Error != "boom" || got.ErrorClass == nil || *got.ErrorClass != "computation" {
		t.Errorf("expected error boom/computation, got %v/%v", got.Error, got.ErrorClass)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time")
	}
}

func TestPullNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetPull(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.CompletePull(ctx, "missing", PullResult{Status: PullStatusSucceeded}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListPulls(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, p := range []*Pull{
		{ID: "a", Terminal: "sink", Mode: "data"},
		{ID: "b", Terminal: "other", Mode: "information"},
		{ID: "c", Terminal: "sink", Mode: "data"},
	} {
		if err := store.CreatePull(ctx, p); err != nil {
			t.Fatalf("failed to create pull %s: %v", p.ID, err)
		}
	}

	all, err := store.ListPulls(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to list pulls: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("expected newest first [c b a], got %v", ids(all))
	}

	terminal := "sink"
	sink, err := store.ListPulls(ctx, &terminal, 10, 0)
	if err != nil {
		t.Fatalf("failed to list pulls: %v", err)
	}
	if len(sink) != 2 {
		t.Errorf("expected 2 pulls for sink, got %v", ids(sink))
	}

	page, err := store.ListPulls(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to list pulls: %v", err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("expected page [b], got %v", ids(page))
	}
}

func TestDeletePullsBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := &Pull{ID: "old", Terminal: "sink", Mode: "data", StartedAt: time.Now().UTC().Add(-48 * time.Hour)}
	recent := &Pull{ID: "recent", Terminal: "sink", Mode: "data"}
	for _, p := range []*Pull{old, recent} {
		if err := store.CreatePull(ctx, p); err != nil {
			t.Fatalf("failed to create pull: %v", err)
		}
	}
	if err := store.RecordExecution(ctx, &Execution{
		PullID: "old", Node: "n", Algorithm: "a", Phase: "REQUEST_DATA", Outcome: OutcomeSucceeded,
	}); err != nil {
		t.Fatalf("failed to record execution: %v", err)
	}

	n, err := store.DeletePullsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to delete pulls: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted pull, got %d", n)
	}
	execs, err := store.ListExecutions(ctx, "old")
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if len(execs) != 0 {
		t.Errorf("expected executions to cascade, got %d", len(execs))
	}
	if _, err := store.GetPull(ctx, "recent"); err != nil {
		t.Errorf("expected recent pull to remain: %v", err)
	}
}

func TestExecutions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreatePull(ctx, &Pull{ID: "p", Terminal: "sink", Mode: "data"}); err != nil {
		t.Fatalf("failed to create pull: %v", err)
	}

	fail := "bad piece"
	for _, e := range []*Execution{
		{PullID: "p", Node: "src", Algorithm: "wavelet", Phase: "REQUEST_DATA", Outcome: OutcomeSucceeded, Duration: 3 * time.Millisecond, Request: "piece=0/1 g0"},
		{PullID: "p", Node: "sink", Algorithm: "shift-scale", Phase: "REQUEST_DATA", Outcome: OutcomeFailed, Error: &fail},
	} {
		if err := store.RecordExecution(ctx, e); err != nil {
			t.Fatalf("failed to record execution: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected execution ID to be set")
		}
	}

	// executions must reference an existing pull
	if err := store.RecordExecution(ctx, &Execution{PullID: "ghost", Node: "n", Algorithm: "a", Phase: "p", Outcome: OutcomeSkipped}); err == nil {
		t.Error("expected foreign key violation for unknown pull")
	}

	execs, err := store.ListExecutions(ctx, "p")
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	if execs[0].Node != "src" || execs[0].Duration != 3*time.Millisecond || execs[0].Request != "piece=0/1 g0" {
		t.Errorf("unexpected first execution: %+v", execs[0])
	}
	if execs[1].Outcome != OutcomeFailed || execs[1].Error == nil || *execs[1].Error != fail {
		t.Errorf("unexpected second execution: %+v", execs[1])
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p1, p2, node := "p1", "p2", "reader"
	for _, ev := range []*Event{
		{PullID: &p1, Level: EventLevelInfo, Type: "a", Message: "first"},
		{PullID: &p1, Node: &node, Level: EventLevelError, Type: "b", Message: "second"},
		{PullID: &p2, Level: EventLevelWarning, Type: "c", Message: "third"},
		{Level: EventLevelInfo, Type: "d", Message: "no pull"},
	} {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	tests := []struct {
		name string
		q    EventQuery
		want []string
	}{
		{"all", EventQuery{}, []string{"first", "second", "third", "no pull"}},
		{"by pull", EventQuery{PullID: &p1}, []string{"first", "second"}},
		{"by node", EventQuery{Node: &node}, []string{"second"}},
		{"by level", EventQuery{Level: levelPtr(EventLevelWarning)}, []string{"third"}},
		{"paged", EventQuery{Limit: 2, Offset: 1}, []string{"second", "third"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.GetEvents(ctx, tt.q)
			if err != nil {
				t.Fatalf("failed to get events: %v", err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("expected %d events, got %d", len(tt.want), len(events))
			}
			for i, ev := range events {
				if ev.Message != tt.want[i] {
					t.Errorf("event %d: expected %q, got %q", i, tt.want[i], ev.Message)
				}
			}
		})
	}
}

func levelPtr(l EventLevel) *EventLevel { return &l }

func ids(pulls []*Pull) []string {
	out := make([]string, len(pulls))
	for i, p := range pulls {
		out[i] = p.ID
	}
	return out
}
