package decorators

import (
	"context"

	"flowbuilder/application/ports"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingStore opens a span around every call to the wrapped store
type TracingStore struct {
	inner   ports.RemoteStore
	tracer  trace.Tracer
	backend string
}

// NewTracingStore wraps inner with tracing
func NewTracingStore(inner ports.RemoteStore, tracer trace.Tracer, backend string) *TracingStore {
	return &TracingStore{inner: inner, tracer: tracer, backend: backend}
}

func (s *TracingStore) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := s.start(ctx, "store.GetDocument", key)
	defer span.End()

	doc, found, err := s.inner.GetDocument(ctx, key)
	span.SetAttributes(
		attribute.Bool("flow.found", found),
		attribute.Int("flow.document_bytes", len(doc)),
	)
	record(span, err)
	return doc, found, err
}

func (s *TracingStore) UpsertDocument(ctx context.Context, key string, document []byte) error {
	ctx, span := s.start(ctx, "store.UpsertDocument", key)
	defer span.End()

	span.SetAttributes(attribute.Int("flow.document_bytes", len(document)))
	err := s.inner.UpsertDocument(ctx, key, document)
	record(span, err)
	return err
}

func (s *TracingStore) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	ctx, span := s.start(ctx, "store.Subscribe", key)
	defer span.End()

	span.SetAttributes(attribute.String("flow.event_filter", string(filter)))
	sub, err := s.inner.Subscribe(ctx, key, filter, handler)
	record(span, err)
	return sub, err
}

func (s *TracingStore) start(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("flow.id", key),
			attribute.String("store.backend", s.backend),
		),
	)
}

func record(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
