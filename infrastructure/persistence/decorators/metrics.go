package decorators

import (
	"context"
	"time"

	"flowbuilder/application/ports"
)

// StoreMetrics records remote store calls. *observability.Collector
// satisfies it.
type StoreMetrics interface {
	RecordStoreOperation(operation, backend string, err error, duration time.Duration)
}

// MetricsStore times every call to the wrapped store
type MetricsStore struct {
	inner   ports.RemoteStore
	metrics StoreMetrics
	backend string
}

// NewMetricsStore wraps inner; backend labels the series
func NewMetricsStore(inner ports.RemoteStore, metrics StoreMetrics, backend string) *MetricsStore {
	return &MetricsStore{inner: inner, metrics: metrics, backend: backend}
}

func (s *MetricsStore) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	doc, found, err := s.inner.GetDocument(ctx, key)
	s.metrics.RecordStoreOperation("get", s.backend, err, time.Since(start))
	return doc, found, err
}

func (s *MetricsStore) UpsertDocument(ctx context.Context, key string, document []byte) error {
	start := time.Now()
	err := s.inner.UpsertDocument(ctx, key, document)
	s.metrics.RecordStoreOperation("upsert", s.backend, err, time.Since(start))
	return err
}

func (s *MetricsStore) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	start := time.Now()
	sub, err := s.inner.Subscribe(ctx, key, filter, handler)
	s.metrics.RecordStoreOperation("subscribe", s.backend, err, time.Since(start))
	return sub, err
}
