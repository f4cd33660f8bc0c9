package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridflow/gridflow/pkg/config"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/pipeline"
	"github.com/gridflow/gridflow/pkg/policy"
	"github.com/gridflow/gridflow/pkg/stores"
	"github.com/gridflow/gridflow/pkg/telemetry"
)

// runner admits, builds and runs descriptions. It outlives a single
// description so that watch can reuse telemetry and the store.
type runner struct {
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	registry *filters.Registry
	policies *policy.Engine
}

// runSummary is what run and watch print after a pull.
type runSummary struct {
	Pipeline    string        `json:"pipeline"`
	Mode        string        `json:"mode"`
	Terminal    string        `json:"terminal"`
	Nodes       int           `json:"nodes"`
	Duration    time.Duration `json:"duration"`
	Output      string        `json:"output,omitempty"`
	Information string        `json:"information"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// newTelemetryConfig overlays a description's telemetry settings on the
// defaults.
func newTelemetryConfig(spec config.TelemetrySpec) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if spec.LogLevel != "" {
		cfg.Logging.Level = spec.LogLevel
	}
	if spec.LogFormat != "" {
		cfg.Logging.Format = spec.LogFormat
	}
	cfg.Metrics.Enabled = spec.MetricsAddr != ""
	cfg.Metrics.ListenAddress = spec.MetricsAddr
	if spec.TracingExporter != "" && spec.TracingExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = spec.TracingExporter
		cfg.Tracing.Endpoint = spec.TracingEndpoint
	}
	if spec.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = spec.SamplingRate
	}
	return cfg
}

// newRunner sets up telemetry, the policy engine and, when storePath is
// set, the history store. Call close when done.
func newRunner(ctx context.Context, spec config.TelemetrySpec, storePath string) (*runner, error) {
	tel, err := telemetry.NewTelemetry(newTelemetryConfig(spec))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	r := &runner{tel: tel, registry: filters.DefaultRegistry()}

	r.policies, err = policy.NewEngine(tel.Logger.Zerolog(), r.registry)
	if err != nil {
		r.close(ctx)
		return nil, err
	}
	if len(policyPaths) > 0 {
		if err := r.policies.LoadPolicies(ctx, policyPaths); err != nil {
			r.close(ctx)
			return nil, err
		}
	}

	if storePath != "" {
		if r.store, err = openStore(ctx, storePath); err != nil {
			r.close(ctx)
			return nil, err
		}
	}
	return r, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}

func (r *runner) close(ctx context.Context) {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.tel.Logger.WithError(err).Warn("Failed to close store")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.tel.Shutdown(shutdownCtx); err != nil {
		r.tel.Logger.WithError(err).Warn("Telemetry shutdown failed")
	}
}

// admit evaluates policies. Blocking violations are published and returned
// as an error; warnings are logged and returned.
func (r *runner) admit(ctx context.Context, d *config.Description) ([]string, error) {
	res, err := r.policies.Evaluate(ctx, d)
	if err != nil {
		return nil, err
	}
	logger := r.tel.Logger.WithField("pipeline", d.Name)

	var warnings []string
	for _, w := range res.Warnings {
		logger.WithField("policy", w.Policy).Warn(w.Message)
		warnings = append(warnings, w.String())
	}
	for _, msg := range res.Errors {
		logger.Error(msg)
	}
	for _, v := range res.Violations {
		if err := r.tel.Events.PublishPolicyViolation(d.Name, v.Policy, v.Node, v.Message); err != nil {
			logger.WithError(err).Debug("Failed to publish policy violation")
		}
	}
	return warnings, res.Err()
}

// run admits d, builds it and drives the terminal according to the request
// mode.
func (r *runner) run(ctx context.Context, d *config.Description) (*runSummary, error) {
	ctx = r.tel.WithContext(ctx)
	warnings, err := r.admit(ctx, d)
	if err != nil {
		return nil, err
	}

	ins := pipeline.MultiInstrumentation{telemetry.Instrument(r.tel)}
	var opts []config.BuildOption
	var rec *stores.Recorder
	if r.store != nil {
		rec = stores.NewRecorder(r.store, d.Name)
		ins = append(ins, rec)
		opts = append(opts, config.WithObserver(rec.Observe))
	}
	opts = append(opts, config.WithInstrumentation(ins))

	op := telemetry.StartOperation(ctx, "pipeline.build", telemetry.AttrTerminal.String(d.Terminal.String()))
	built, err := config.Build(d, r.registry, opts...)
	op.End(err)
	if err != nil {
		return nil, err
	}
	op.Logger.Tracef("built %d nodes in %s", len(built.Order), op.Timer.Duration())

	start := time.Now()
	runErr := built.Run(ctx)
	if rec != nil {
		if err := rec.Err(); err != nil {
			r.tel.Logger.WithError(err).Warn("Failed to record execution history")
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	sum := &runSummary{
		Pipeline:    d.Name,
		Mode:        d.Request.Mode,
		Terminal:    d.Terminal.String(),
		Nodes:       len(built.Order),
		Duration:    time.Since(start),
		Information: built.Terminal.OutputInformation(built.Port).String(),
		Warnings:    warnings,
	}
	if d.Request.Mode == config.ModeData {
		out := built.Terminal.Output(built.Port)
		if out == nil {
			return nil, errors.New("terminal produced no output")
		}
		sum.Output = out.String()
	}
	return sum, nil
}
