package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"softhub/internal/models"
	"softhub/internal/storage"
)

// InstrumentedMirror wraps a storage.Mirror with a span, a latency
// histogram and an error counter per call. storage.ErrNotFound is an
// expected outcome and is not counted as an error.
type InstrumentedMirror struct {
	inner    storage.Mirror
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func NewInstrumentedMirror(inner storage.Mirror) (*InstrumentedMirror, error) {
	tracer := otel.Tracer("softhub/storage")
	meter := otel.Meter("softhub/storage")

	duration, err := meter.Float64Histogram(
		"mirror.operation.duration",
		metric.WithDescription("Duration of mirror store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"mirror.operation.errors",
		metric.WithDescription("Number of failed mirror store operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedMirror{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (m *InstrumentedMirror) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "mirror."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("mirror.operation", operation),
		}, attrs...)...),
	)
}

func (m *InstrumentedMirror) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *InstrumentedMirror) ListSlugs(ctx context.Context) ([]string, error) {
	ctx, span := m.startSpan(ctx, "ListSlugs")
	start := time.Now()
	slugs, err := m.inner.ListSlugs(ctx)
	span.SetAttributes(attribute.Int("mirror.slug_count", len(slugs)))
	m.record(ctx, span, "ListSlugs", start, err)
	return slugs, err
}

func (m *InstrumentedMirror) UpsertItems(ctx context.Context, items []*models.CatalogItem) error {
	ctx, span := m.startSpan(ctx, "UpsertItems", attribute.Int("mirror.batch_size", len(items)))
	start := time.Now()
	err := m.inner.UpsertItems(ctx, items)
	m.record(ctx, span, "UpsertItems", start, err)
	return err
}

func (m *InstrumentedMirror) DeleteItems(ctx context.Context, slugs []string) error {
	ctx, span := m.startSpan(ctx, "DeleteItems", attribute.Int("mirror.batch_size", len(slugs)))
	start := time.Now()
	err := m.inner.DeleteItems(ctx, slugs)
	m.record(ctx, span, "DeleteItems", start, err)
	return err
}

func (m *InstrumentedMirror) GetItem(ctx context.Context, slug string) (*models.CatalogItem, error) {
	ctx, span := m.startSpan(ctx, "GetItem", attribute.String("mirror.slug", slug))
	start := time.Now()
	item, err := m.inner.GetItem(ctx, slug)
	m.record(ctx, span, "GetItem", start, err)
	return item, err
}

func (m *InstrumentedMirror) Ping(ctx context.Context) error {
	ctx, span := m.startSpan(ctx, "Ping")
	start := time.Now()
	err := m.inner.Ping(ctx)
	m.record(ctx, span, "Ping", start, err)
	return err
}

// Close is not traced.
func (m *InstrumentedMirror) Close() error {
	return m.inner.Close()
}
