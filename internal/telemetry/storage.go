package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborhq/arbor/internal/cards"
	"github.com/arborhq/arbor/internal/types"
)

const storageScopeName = "github.com/arborhq/arbor/storage"

// InstrumentedCards wraps cards.Store with OTel tracing and metrics.
// Every method gets a span and is counted in arbor.storage.* metrics.
// Use WrapCards to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedCards struct {
	inner  cards.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	writes metric.Int64Counter
}

// WrapCards returns s decorated with OTel instrumentation.
func WrapCards(s cards.Store) cards.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("arbor.storage.operations",
		metric.WithDescription("Total card storage operations executed"),
	)
	dur, _ := m.Float64Histogram("arbor.storage.operation.duration",
		metric.WithDescription("Card storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("arbor.storage.errors",
		metric.WithDescription("Total card storage operation errors"),
	)
	writes, _ := m.Int64Counter("arbor.storage.property_writes",
		metric.WithDescription("Property values set or cleared"),
	)
	return &InstrumentedCards{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
		writes: writes,
	}
}

func (s *InstrumentedCards) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "cards."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedCards) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedCards) GetCard(ctx context.Context, id string) (*types.Card, error) {
	attrs := []attribute.KeyValue{attribute.String("arbor.card.id", id)}
	ctx, span, t := s.op(ctx, "GetCard", attrs...)
	v, err := s.inner.GetCard(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedCards) GetProperty(ctx context.Context, cardID, name string) (string, bool, error) {
	ctx, span, t := s.op(ctx, "GetProperty")
	v, ok, err := s.inner.GetProperty(ctx, cardID, name)
	s.done(ctx, span, t, err)
	return v, ok, err
}

func (s *InstrumentedCards) ApplyProperties(ctx context.Context, writes []types.PropertyWrite) error {
	attrs := []attribute.KeyValue{attribute.Int("arbor.write.count", len(writes))}
	ctx, span, t := s.op(ctx, "ApplyProperties", attrs...)
	err := s.inner.ApplyProperties(ctx, writes)
	if err == nil {
		s.writes.Add(ctx, int64(len(writes)))
	}
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedCards) DefineProperty(ctx context.Context, def types.PropertyDefinition) error {
	attrs := []attribute.KeyValue{
		attribute.String("arbor.property.name", def.Name),
		attribute.String("arbor.property.kind", string(def.Kind)),
	}
	ctx, span, t := s.op(ctx, "DefineProperty", attrs...)
	err := s.inner.DefineProperty(ctx, def)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedCards) DropProperty(ctx context.Context, name string) error {
	attrs := []attribute.KeyValue{attribute.String("arbor.property.name", name)}
	ctx, span, t := s.op(ctx, "DropProperty", attrs...)
	err := s.inner.DropProperty(ctx, name)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedCards) PropertyDefined(ctx context.Context, cardType, name string) (bool, error) {
	ctx, span, t := s.op(ctx, "PropertyDefined")
	v, err := s.inner.PropertyDefined(ctx, cardType, name)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedCards) LookupProperty(ctx context.Context, name string) (*types.PropertyDefinition, error) {
	attrs := []attribute.KeyValue{attribute.String("arbor.property.name", name)}
	ctx, span, t := s.op(ctx, "LookupProperty", attrs...)
	v, err := s.inner.LookupProperty(ctx, name)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}
