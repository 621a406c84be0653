// Package otel provides OpenTelemetry instrumentation for blob stores.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/mailstore/blob"
)

const instrumentationName = "github.com/rbaliyan/mailstore/blob/otel"

// Store wraps a blob.Store with OpenTelemetry tracing and metrics.
type Store struct {
	backend blob.Store
	opts    *options

	tracer trace.Tracer

	putLatency    metric.Float64Histogram
	putCount      metric.Int64Counter
	putBytes      metric.Int64Counter
	putErrors     metric.Int64Counter
	getLatency    metric.Float64Histogram
	getCount      metric.Int64Counter
	getBytes      metric.Int64Counter
	getErrors     metric.Int64Counter
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter
}

var _ blob.Store = (*Store)(nil)

// New creates an instrumented store wrapping backend.
func New(backend blob.Store, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "mailstore",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{backend: backend, opts: o}

	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if s.putLatency, err = meter.Float64Histogram(
		"blob.put.duration",
		metric.WithDescription("Duration of blob put operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if s.putCount, err = meter.Int64Counter(
		"blob.put.count",
		metric.WithDescription("Number of blob put operations"),
	); err != nil {
		return err
	}
	if s.putBytes, err = meter.Int64Counter(
		"blob.put.bytes",
		metric.WithDescription("Total bytes written"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}
	if s.putErrors, err = meter.Int64Counter(
		"blob.put.errors",
		metric.WithDescription("Number of put errors"),
	); err != nil {
		return err
	}
	if s.getLatency, err = meter.Float64Histogram(
		"blob.get.duration",
		metric.WithDescription("Duration of blob get operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if s.getCount, err = meter.Int64Counter(
		"blob.get.count",
		metric.WithDescription("Number of blob get operations"),
	); err != nil {
		return err
	}
	if s.getBytes, err = meter.Int64Counter(
		"blob.get.bytes",
		metric.WithDescription("Total bytes read"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}
	if s.getErrors, err = meter.Int64Counter(
		"blob.get.errors",
		metric.WithDescription("Number of get errors"),
	); err != nil {
		return err
	}
	if s.deleteLatency, err = meter.Float64Histogram(
		"blob.delete.duration",
		metric.WithDescription("Duration of blob delete operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if s.deleteCount, err = meter.Int64Counter(
		"blob.delete.count",
		metric.WithDescription("Number of blob delete operations"),
	); err != nil {
		return err
	}
	if s.deleteErrors, err = meter.Int64Counter(
		"blob.delete.errors",
		metric.WithDescription("Number of delete errors"),
	); err != nil {
		return err
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, content io.Reader) error {
	attrs := []attribute.KeyValue{
		attribute.String("blob.key", key),
		attribute.String("service.name", s.opts.serviceName),
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "blob.put",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	counting := &countingReader{reader: content}
	err := s.backend.Put(ctx, key, counting)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.putLatency.Record(ctx, duration, metricAttrs)
		s.putCount.Add(ctx, 1, metricAttrs)
		s.putBytes.Add(ctx, counting.bytes, metricAttrs)
		if err != nil {
			s.putErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int64("blob.bytes", counting.bytes))
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("blob.key", key),
		attribute.String("service.name", s.opts.serviceName),
	}

	// The span stays open until the returned reader is closed.
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "blob.get",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}

	start := time.Now()
	reader, err := s.backend.Get(ctx, key)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.getLatency.Record(ctx, duration, metricAttrs)
		s.getCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.getErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}

	return &instrumentedReader{
		reader: reader,
		span:   span,
		store:  s,
		ctx:    ctx,
		attrs:  attrs,
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	attrs := []attribute.KeyValue{
		attribute.String("blob.key", key),
		attribute.String("service.name", s.opts.serviceName),
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "blob.delete",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	err := s.backend.Delete(ctx, key)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.deleteLatency.Record(ctx, duration, metricAttrs)
		s.deleteCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.deleteErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

// countingReader wraps an io.Reader and counts bytes read.
type countingReader struct {
	reader io.Reader
	bytes  int64
}

func (r *countingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

// instrumentedReader tracks bytes read and ends the span on close.
type instrumentedReader struct {
	reader io.ReadCloser
	span   trace.Span
	store  *Store
	ctx    context.Context
	attrs  []attribute.KeyValue
	bytes  int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()

	if r.store.opts.metricsEnabled {
		r.store.getBytes.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
	}
	if r.span != nil {
		r.span.SetAttributes(attribute.Int64("blob.bytes", r.bytes))
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		} else {
			r.span.SetStatus(codes.Ok, "")
		}
		r.span.End()
	}
	return err
}
