// Package telemetry provides observability for gridflow pipelines.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// Prometheus metrics and an event publisher. The pipeline core never
// imports this package: Instrument adapts a Telemetry bundle to
// pipeline.Instrumentation, which the executive calls around every pull
// and every phase execution.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	sink := pipeline.MustNew(alg, pipeline.WithInstrumentation(telemetry.Instrument(tel)))
//	err = sink.Update(tel.WithContext(ctx))
//
// # Logging
//
// Loggers are derived per component and tagged with pipeline fields:
//
//	logger := tel.Logger.NewComponentLogger("cli")
//	logger.WithPull(pullID).WithNode("reader").Info("pull started")
//
// During a pull the logger tagged with the pull ID travels in the context;
// algorithms can retrieve it with FromContext.
//
// # Tracing
//
// Each pull produces a "pipeline.pull" span. Every phase run on a node is a
// child span named after the phase ("phase.information", "phase.data", ...)
// carrying the node, the algorithm and, for RequestData, the request being
// served. Cache hits are span events on the pull span. Exporters: otlp
// (gRPC), stdout and none.
//
// # Metrics
//
// Collectors live on a private registry served by Metrics.Handler:
//
//	gridflow_pulls_started_total{mode}
//	gridflow_pulls_completed_total{mode,status}
//	gridflow_pull_duration_seconds{mode}
//	gridflow_phase_executions_total{phase,algorithm,outcome}
//	gridflow_phase_duration_seconds{phase}
//	gridflow_request_data_duration_seconds{algorithm}
//	gridflow_cache_hits_total{algorithm}
//	gridflow_errors_by_class_total{class}
//	gridflow_errors_by_code_total{code}
//	gridflow_active_pulls
//	gridflow_graph_nodes{terminal}
//
// # Events
//
// The EventPublisher delivers pull, phase, policy and config events to
// subscribers, synchronously or batched from a goroutine:
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Println(ev.Type, ev.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
