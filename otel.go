package mailstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mailstore"

// otelInstrumentation holds OpenTelemetry instrumentation for the
// delivery agent.
type otelInstrumentation struct {
	enabled bool

	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool

	envelopeLatency metric.Float64Histogram
	envelopeCount   metric.Int64Counter
	envelopeErrors  metric.Int64Counter
	deliverLatency  metric.Float64Histogram
	deliverCount    metric.Int64Counter
	deliverBytes    metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}
	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	o.envelopeLatency, err = meter.Float64Histogram(
		"mailstore.envelope.duration",
		metric.WithDescription("Duration of whole-envelope delivery"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	o.envelopeCount, err = meter.Int64Counter(
		"mailstore.envelope.count",
		metric.WithDescription("Number of envelopes processed"),
	)
	if err != nil {
		return err
	}
	o.envelopeErrors, err = meter.Int64Counter(
		"mailstore.envelope.errors",
		metric.WithDescription("Number of envelopes rejected before recipient processing"),
	)
	if err != nil {
		return err
	}
	o.deliverLatency, err = meter.Float64Histogram(
		"mailstore.deliver.duration",
		metric.WithDescription("Duration of per-recipient delivery"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	o.deliverCount, err = meter.Int64Counter(
		"mailstore.deliver.count",
		metric.WithDescription("Number of per-recipient delivery attempts"),
	)
	if err != nil {
		return err
	}
	o.deliverBytes, err = meter.Int64Counter(
		"mailstore.deliver.bytes",
		metric.WithDescription("Bytes of payload stored"),
		metric.WithUnit("By"),
	)
	return err
}

// startSpan starts a span if tracing is enabled. The returned func
// records the error and ends the span.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordEnvelope records whole-envelope metrics.
func (o *otelInstrumentation) recordEnvelope(ctx context.Context, duration time.Duration, recipientCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Int("recipient_count", recipientCount),
	)
	o.envelopeLatency.Record(ctx, duration.Seconds(), attrs)
	o.envelopeCount.Add(ctx, 1, attrs)
	if err != nil {
		o.envelopeErrors.Add(ctx, 1, attrs)
	}
}

// recordDeliver records one recipient's delivery attempt.
func (o *otelInstrumentation) recordDeliver(ctx context.Context, duration time.Duration, reply ReplyCode, size int64) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("reply", string(reply)),
	)
	o.deliverLatency.Record(ctx, duration.Seconds(), attrs)
	o.deliverCount.Add(ctx, 1, attrs)
	if reply == ReplyOK && size > 0 {
		o.deliverBytes.Add(ctx, size, attrs)
	}
}
