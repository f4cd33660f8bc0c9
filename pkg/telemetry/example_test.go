package telemetry_test

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/pipeline"
	"github.com/gridflow/gridflow/pkg/telemetry"
)

// Example_instrumentedPull instruments a two-node pipeline and prints the
// events of two pulls. The second pull is served from cache.
func Example_instrumentedPull() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Metrics.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(ev telemetry.Event) {
		fmt.Println(ev.Type, ev.Node)
	}, telemetry.FilterByType(telemetry.EventTypeCacheHit, telemetry.EventTypePullCompleted))

	src := pipeline.MustNew(filters.NewWaveletSource(extent.New(0, 7, 0, 7, 0, 0)), pipeline.WithName("wavelet"))
	sink := pipeline.MustNew(filters.NewShiftScale(filters.WaveletArray, 0, 0.5),
		pipeline.WithName("half"),
		pipeline.WithInstrumentation(telemetry.Instrument(tel)))
	if err := sink.SetInputConnection(0, src.OutputPort(0)); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		if err := sink.Update(ctx); err != nil {
			panic(err)
		}
	}
	// Output:
	// pull.completed half
	// phase.cache_hit wavelet
	// phase.cache_hit half
	// pull.completed half
}

// Example_structuredLogging derives tagged loggers.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("cli").WithNode("reader")
	logger.Debug("opening input")
	logger.WithError(fmt.Errorf("file not found")).Warn("falling back to defaults")
}
