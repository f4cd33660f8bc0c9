package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/gridflow/gridflow/pkg/pipeline"
)

// Instrument adapts t to the executive's instrumentation hook. Every pull
// gets a span, a tagged logger in its context, metrics and events.
func Instrument(t *Telemetry) pipeline.Instrumentation {
	return &instrumentation{
		t:   t,
		log: t.Logger.NewComponentLogger("executive"),
	}
}

type instrumentation struct {
	t   *Telemetry
	log *Logger
}

func (in *instrumentation) PullStarted(ctx context.Context, p pipeline.PullInfo) context.Context {
	ctx, _ = in.t.Tracer.StartPullSpan(ctx, p)
	logger := in.log.WithPull(p.ID).WithNode(p.Terminal)
	logger.Debugf("%s pull started over %d nodes", p.Mode, p.Nodes)

	in.t.Metrics.RecordPullStarted(p.Mode, p.Terminal, p.Nodes)
	if err := in.t.Events.PublishPullStarted(p); err != nil {
		logger.WithError(err).Warn("event not published")
	}
	return logger.WithContext(ctx)
}

func (in *instrumentation) PullFinished(ctx context.Context, p pipeline.PullInfo, s pipeline.PullStats, err error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrExecuted.Int(s.Executed), AttrSkipped.Int(s.Skipped))
	logger := FromContext(ctx)

	status := "success"
	if err != nil {
		status = "failed"
		class, code := classify(err)
		span.SetAttributes(AttrErrorClass.String(class), AttrErrorCode.String(code))
		RecordError(span, err)
		in.t.Metrics.RecordError(class, code)
		logger.WithError(err).Errorf("pull failed after %s", s.Duration)
		if perr := in.t.Events.PublishPullFailed(p, err); perr != nil {
			logger.WithError(perr).Warn("event not published")
		}
	} else {
		RecordSuccess(span)
		logger.Infof("pull finished in %s: %d executed, %d cached", s.Duration, s.Executed, s.Skipped)
		if perr := in.t.Events.PublishPullCompleted(p, s); perr != nil {
			logger.WithError(perr).Warn("event not published")
		}
	}
	span.End()
	in.t.Metrics.RecordPullCompleted(p.Mode, status, s.Duration)
}

func (in *instrumentation) PhaseStarted(ctx context.Context, ph pipeline.PhaseInfo) context.Context {
	ctx, _ = in.t.Tracer.StartPhaseSpan(ctx, ph)
	logger := FromContext(ctx).WithNode(ph.Node).WithPhase(string(ph.Phase), ph.Algorithm)
	if ph.Phase == pipeline.RequestData {
		logger.Debugf("executing: %s (%s)", ph.Reason, ph.Request)
	} else {
		logger.Trace("phase started")
	}
	return logger.WithContext(ctx)
}

func (in *instrumentation) PhaseFinished(ctx context.Context, ph pipeline.PhaseInfo, d time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	outcome := "success"
	if err != nil {
		outcome = "failed"
		RecordError(span, err)
		FromContext(ctx).WithError(err).Warnf("phase failed after %s", d)
		if perr := in.t.Events.PublishPhaseFailed(ph, err); perr != nil {
			FromContext(ctx).WithError(perr).Warn("event not published")
		}
	} else {
		RecordSuccess(span)
	}
	span.End()
	in.t.Metrics.RecordPhase(string(ph.Phase), ph.Algorithm, outcome, d)
}

func (in *instrumentation) PhaseSkipped(ctx context.Context, ph pipeline.PhaseInfo) {
	if ph.Phase != pipeline.RequestData {
		FromContext(ctx).WithNode(ph.Node).Debugf("%s skipped: %s", ph.Phase, ph.Reason)
		return
	}
	AddEvent(trace.SpanFromContext(ctx), "cache_hit",
		AttrNode.String(ph.Node),
		AttrRequest.String(ph.Request.String()),
	)
	FromContext(ctx).WithNode(ph.Node).Debugf("cached output satisfies %s", ph.Request)
	in.t.Metrics.RecordCacheHit(ph.Algorithm)
	if err := in.t.Events.PublishCacheHit(ph); err != nil {
		FromContext(ctx).WithError(err).Warn("event not published")
	}
}
