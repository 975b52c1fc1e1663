// Package otel reports hal cache activity through OpenTelemetry traces and
// metrics.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/knaydenov/hal"
)

const (
	instrumentationName = "github.com/knaydenov/hal"
)

type attrsKey struct{}

// Observability implements hal.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	fetchCounter  metric.Int64Counter
	fetchDuration metric.Float64Histogram
	fetchErrors   metric.Int64Counter
	notifyCounter metric.Int64Counter
	notifyAliases metric.Int64Histogram
	dumpCounter   metric.Int64Counter
	dumpDuration  metric.Float64Histogram
	dumpBytes     metric.Int64Histogram
	dumpErrors    metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates the instruments on the configured providers. The global
// providers are used unless overridden.
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(obs)
	}

	var err error

	obs.fetchCounter, err = obs.meter.Int64Counter(
		"hal.fetch.count",
		metric.WithDescription("Number of transport requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	obs.fetchDuration, err = obs.meter.Float64Histogram(
		"hal.fetch.duration",
		metric.WithDescription("Transport request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.fetchErrors, err = obs.meter.Int64Counter(
		"hal.fetch.errors",
		metric.WithDescription("Number of failed transport requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.notifyCounter, err = obs.meter.Int64Counter(
		"hal.notify.count",
		metric.WithDescription("Number of payloads published to subscribers"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, err
	}

	obs.notifyAliases, err = obs.meter.Int64Histogram(
		"hal.notify.aliases",
		metric.WithDescription("Aliases notified per published payload"),
		metric.WithUnit("{alias}"),
	)
	if err != nil {
		return nil, err
	}

	obs.dumpCounter, err = obs.meter.Int64Counter(
		"hal.dump.count",
		metric.WithDescription("Number of storage dumps"),
		metric.WithUnit("{dump}"),
	)
	if err != nil {
		return nil, err
	}

	obs.dumpDuration, err = obs.meter.Float64Histogram(
		"hal.dump.duration",
		metric.WithDescription("Storage dump duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.dumpBytes, err = obs.meter.Int64Histogram(
		"hal.dump.bytes",
		metric.WithDescription("Bytes written per storage dump"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	obs.dumpErrors, err = obs.meter.Int64Counter(
		"hal.dump.errors",
		metric.WithDescription("Number of failed storage dumps"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

func withAttrs(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	return context.WithValue(ctx, attrsKey{}, attrs)
}

func attrsFrom(ctx context.Context) []attribute.KeyValue {
	attrs, _ := ctx.Value(attrsKey{}).([]attribute.KeyValue)
	return attrs
}

// OnFetchStart is called before a transport request
func (o *Observability) OnFetchStart(ctx context.Context, method, url string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "hal.fetch: "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("url", url),
		),
	)

	attrs := []attribute.KeyValue{attribute.String("http.method", method)}
	o.fetchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return withAttrs(ctx, attrs...)
}

// OnFetchComplete is called when a transport request finished (with or without error)
func (o *Observability) OnFetchComplete(ctx context.Context, duration time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := attrsFrom(ctx)

	durationMs := float64(duration.Milliseconds())
	o.fetchDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.fetchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnNotify records a publish as an event on the current span
func (o *Observability) OnNotify(ctx context.Context, origin string, aliases int) {
	trace.SpanFromContext(ctx).AddEvent("hal.notify", trace.WithAttributes(
		attribute.String("origin", origin),
		attribute.Int("aliases", aliases),
	))

	o.notifyCounter.Add(ctx, 1)
	o.notifyAliases.Record(ctx, int64(aliases))
}

// OnDumpStart is called before the alias and origin blobs are written
func (o *Observability) OnDumpStart(ctx context.Context, reason string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "hal.dump: "+reason,
		trace.WithAttributes(
			attribute.String("dump.reason", reason),
		),
	)

	attrs := []attribute.KeyValue{attribute.String("dump.reason", reason)}
	o.dumpCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return withAttrs(ctx, attrs...)
}

// OnDumpComplete is called after a dump
func (o *Observability) OnDumpComplete(ctx context.Context, duration time.Duration, bytes int, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := attrsFrom(ctx)

	durationMs := float64(duration.Milliseconds())
	o.dumpDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.dumpErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetAttributes(attribute.Int("dump.bytes", bytes))
		o.dumpBytes.Record(ctx, int64(bytes), metric.WithAttributes(attrs...))
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// Ensure Observability implements hal.Observability
var _ hal.Observability = (*Observability)(nil)
