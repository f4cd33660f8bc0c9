package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

type harness struct {
	tel    *Telemetry
	spans  *tracetest.SpanRecorder
	logs   *bytes.Buffer
	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		t.Fatalf("Failed to create event publisher: %v", err)
	}
	h := &harness{spans: tracetest.NewSpanRecorder(), logs: &bytes.Buffer{}}
	h.tel = &Telemetry{
		Logger:  NewLoggerWithWriter(cfg.Logging, h.logs),
		Tracer:  NewTracerWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans)), "test"),
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
	h.tel.Events.Subscribe(func(ev Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	}, nil)
	return h
}

func (h *harness) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, len(h.events))
	for i, ev := range h.events {
		types[i] = ev.Type
	}
	return types
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	return string(body)
}

func (h *harness) chain() (*filters.WaveletSource, *pipeline.Executive) {
	wavelet := filters.NewWaveletSource(extent.New(0, 3, 0, 3, 0, 0))
	src := pipeline.MustNew(wavelet, pipeline.WithName("wavelet"))
	sink := pipeline.MustNew(filters.NewShiftScale(filters.WaveletArray, 1, 2),
		pipeline.WithName("scale"),
		pipeline.WithInstrumentation(Instrument(h.tel)))
	if err := sink.SetInputConnection(0, src.OutputPort(0)); err != nil {
		panic(err)
	}
	return wavelet, sink
}

func TestInstrument_SuccessfulPull(t *testing.T) {
	h := newHarness(t)
	_, sink := h.chain()

	if err := sink.Update(context.Background()); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var pull sdktrace.ReadOnlySpan
	data := 0
	for _, s := range h.spans.Ended() {
		switch s.Name() {
		case "pipeline.pull":
			pull = s
		case "phase.data":
			data++
		}
	}
	if pull == nil {
		t.Fatal("Expected a pull span")
	}
	if pull.Status().Code != codes.Ok {
		t.Errorf("Expected pull span status Ok, got %v", pull.Status().Code)
	}
	if data != 2 {
		t.Errorf("Expected 2 data phase spans, got %d", data)
	}
	for _, s := range h.spans.Ended() {
		if s.Name() != "pipeline.pull" && s.Parent().SpanID() != pull.SpanContext().SpanID() {
			t.Errorf("Expected %s to be a child of the pull span", s.Name())
		}
	}

	body := h.scrape(t)
	for _, want := range []string{
		`gridflow_pulls_completed_total{mode="data",status="success"} 1`,
		`gridflow_phase_executions_total{algorithm="wavelet",outcome="success",phase="REQUEST_DATA"} 1`,
		`gridflow_phase_executions_total{algorithm="shift-scale",outcome="success",phase="REQUEST_DATA"} 1`,
		`gridflow_graph_nodes{terminal="scale"} 2`,
		`gridflow_active_pulls 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}

	types := h.eventTypes()
	if len(types) != 2 || types[0] != EventTypePullStarted || types[1] != EventTypePullCompleted {
		t.Errorf("Expected pull started and completed events, got %v", types)
	}
	if !strings.Contains(h.logs.String(), `"pull_id"`) {
		t.Errorf("Expected logs tagged with pull_id, got %s", h.logs.String())
	}
}

func TestInstrument_CacheHit(t *testing.T) {
	h := newHarness(t)
	_, sink := h.chain()

	for i := 0; i < 2; i++ {
		if err := sink.Update(context.Background()); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	body := h.scrape(t)
	for _, want := range []string{
		`gridflow_cache_hits_total{algorithm="wavelet"} 1`,
		`gridflow_cache_hits_total{algorithm="shift-scale"} 1`,
		`gridflow_pulls_completed_total{mode="data",status="success"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}

	hits := 0
	for _, typ := range h.eventTypes() {
		if typ == EventTypeCacheHit {
			hits++
		}
	}
	if hits != 2 {
		t.Errorf("Expected 2 cache hit events, got %d", hits)
	}
}

func TestInstrument_InformationSkipIsNotACacheHit(t *testing.T) {
	h := newHarness(t)
	_, sink := h.chain()
	ctx := context.Background()

	if err := sink.Update(ctx); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	sink.Modified()
	if err := sink.Update(ctx); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	body := h.scrape(t)
	if want := `gridflow_cache_hits_total{algorithm="wavelet"} 1`; !strings.Contains(body, want) {
		t.Errorf("Expected metrics to contain %q", want)
	}
	if strings.Contains(body, `gridflow_cache_hits_total{algorithm="shift-scale"}`) {
		t.Error("Expected no cache hit for the re-executed filter")
	}
}

func TestInstrument_FailedPull(t *testing.T) {
	h := newHarness(t)
	wavelet, sink := h.chain()
	wavelet.SetFail(errors.New("sensor offline"))

	err := sink.Update(context.Background())
	if !pipeline.IsComputation(err) {
		t.Fatalf("Expected computation error, got %v", err)
	}

	body := h.scrape(t)
	for _, want := range []string{
		`gridflow_pulls_completed_total{mode="data",status="failed"} 1`,
		`gridflow_errors_by_class_total{class="computation"} 1`,
		`gridflow_errors_by_code_total{code="ALGORITHM_FAILED"} 1`,
		`gridflow_phase_executions_total{algorithm="wavelet",outcome="failed",phase="REQUEST_DATA"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}

	for _, s := range h.spans.Ended() {
		if s.Name() == "pipeline.pull" && s.Status().Code != codes.Error {
			t.Errorf("Expected failed pull span, got %v", s.Status().Code)
		}
	}

	types := h.eventTypes()
	want := []string{EventTypePullStarted, EventTypePhaseFailed, EventTypePullFailed}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("Expected events %v, got %v", want, types)
	}
}

func TestEventPublisher_Filters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	var got []Event
	ep.Subscribe(func(ev Event) { got = append(got, ev) }, FilterByLevel(EventLevelWarning))
	ep.AddFilter(func(ev Event) bool { return ev.Node != "ignored" })

	_ = ep.Publish(Event{Type: "a", Level: EventLevelInfo, Node: "n"})
	_ = ep.Publish(Event{Type: "b", Level: EventLevelError, Node: "n"})
	_ = ep.Publish(Event{Type: "c", Level: EventLevelError, Node: "ignored"})

	if len(got) != 1 || got[0].Type != "b" {
		t.Fatalf("Expected only event b, got %+v", got)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Errorf("Expected ID and timestamp to be stamped, got %+v", got[0])
	}
}

func TestEventPublisher_AsyncShutdownDrains(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    16,
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, FilterByPull("p1"))

	for i := 0; i < 5; i++ {
		if err := ep.Publish(Event{Type: "x", PullID: "p1"}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	_ = ep.Publish(Event{Type: "x", PullID: "p2"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("Expected 5 delivered events, got %d", count)
	}
	if err := ep.Publish(Event{Type: "late"}); err == nil {
		t.Error("Expected publish after shutdown to fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"production", func(c *Config) { *c = *ProductionConfig() }, false},
		{"development", func(c *Config) { *c = *DevelopmentConfig() }, false},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled, c.Tracing.Exporter = true, "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled, c.Tracing.Exporter = true, "otlp" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	m.RecordPullStarted("data", "sink", 3)
	m.RecordPhase("REQUEST_DATA", "wavelet", "success", time.Millisecond)
	m.RecordCacheHit("wavelet")
	m.RecordError("computation", "")
	m.RecordPullCompleted("data", "success", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("Expected 404 from disabled metrics, got %d", rec.Code)
	}
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "config.load")
	ic.End(errors.New("boom"))
	if ic.Ctx == nil || ic.Logger == nil {
		t.Error("Expected a usable context and logger")
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)
	l.WithPull("p-1").WithNode("reader").WithPhase("REQUEST_DATA", "wavelet").Info("hello")
	l.Debug("hidden")

	out := buf.String()
	for _, want := range []string{`"pull_id":"p-1"`, `"node":"reader"`, `"phase":"REQUEST_DATA"`, `"algorithm":"wavelet"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("Expected debug message to be filtered at info level")
	}
}
