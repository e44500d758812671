package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/tracker"
)

const trackerScopeName = "github.com/joescharf/tracelink/tracker"

// InstrumentedAdapter wraps a tracker.Adapter with a span, a call counter
// and a latency histogram per call.
type InstrumentedAdapter struct {
	inner  tracker.Adapter
	tracer trace.Tracer
	calls  metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapAdapter returns a decorated with OTel instrumentation. When telemetry
// is disabled a is returned as-is.
func WrapAdapter(a tracker.Adapter) tracker.Adapter {
	if !Enabled() {
		return a
	}
	m := Meter(trackerScopeName)
	calls, _ := m.Int64Counter("tracelink.tracker.calls",
		metric.WithDescription("Tracker API calls issued"),
	)
	dur, _ := m.Float64Histogram("tracelink.tracker.call.duration",
		metric.WithDescription("Tracker API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("tracelink.tracker.errors",
		metric.WithDescription("Tracker API calls that returned an error"),
	)
	return &InstrumentedAdapter{
		inner:  a,
		tracer: Tracer(trackerScopeName),
		calls:  calls,
		dur:    dur,
		errs:   errs,
	}
}

func (a *InstrumentedAdapter) op(ctx context.Context, name string, key issuekey.Key) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	attrs := []attribute.KeyValue{
		attribute.String("tracker.operation", name),
		attribute.String("tracelink.issue.project", key.Prefix),
	}
	ctx, span := a.tracer.Start(ctx, "tracker."+name,
		trace.WithAttributes(append(attrs, attribute.String("tracelink.issue.key", key.String()))...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	a.calls.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, span, time.Now(), attrs
}

func (a *InstrumentedAdapter) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	a.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.errs.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("tracker.transient", tracker.IsTransient(err)))...))
	}
	span.End()
}

func (a *InstrumentedAdapter) GetLinkage(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (models.LinkageRecord, error) {
	ctx, span, t, attrs := a.op(ctx, tracker.OpGetLinkage, key)
	rec, err := a.inner.GetLinkage(ctx, key, link)
	if err == nil {
		span.SetAttributes(
			attribute.Bool("tracelink.link.exists", rec.LinkExists),
			attribute.String("tracelink.issue.state", rec.CurrentTransitionState.String()),
		)
	}
	a.done(ctx, span, t, err, attrs)
	return rec, err
}

func (a *InstrumentedAdapter) CreateLink(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (tracker.LinkResult, error) {
	ctx, span, t, attrs := a.op(ctx, tracker.OpCreateLink, key)
	res, err := a.inner.CreateLink(ctx, key, link)
	span.SetAttributes(attribute.String("tracelink.link.result", string(res)))
	a.done(ctx, span, t, err, attrs)
	return res, err
}

func (a *InstrumentedAdapter) Transition(ctx context.Context, key issuekey.Key, target models.TransitionState) (tracker.TransitionResult, error) {
	ctx, span, t, attrs := a.op(ctx, tracker.OpTransition, key)
	span.SetAttributes(attribute.String("tracelink.transition.target", target.String()))
	res, err := a.inner.Transition(ctx, key, target)
	span.SetAttributes(attribute.String("tracelink.transition.result", string(res)))
	a.done(ctx, span, t, err, attrs)
	return res, err
}

func (a *InstrumentedAdapter) AddComment(ctx context.Context, key issuekey.Key, text string) error {
	ctx, span, t, attrs := a.op(ctx, tracker.OpAddComment, key)
	err := a.inner.AddComment(ctx, key, text)
	a.done(ctx, span, t, err, attrs)
	return err
}
