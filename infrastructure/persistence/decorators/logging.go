package decorators

import (
	"context"
	"time"

	"flowbuilder/application/ports"

	"go.uber.org/zap"
)

// LoggingStore logs every call to the wrapped store. Successful calls log at
// debug, failures at warn.
type LoggingStore struct {
	inner  ports.RemoteStore
	logger *zap.Logger
}

// NewLoggingStore wraps inner with logging
func NewLoggingStore(inner ports.RemoteStore, logger *zap.Logger) *LoggingStore {
	return &LoggingStore{inner: inner, logger: logger.Named("store")}
}

func (s *LoggingStore) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	doc, found, err := s.inner.GetDocument(ctx, key)
	s.log("get", key, err, time.Since(start), zap.Bool("found", found), zap.Int("bytes", len(doc)))
	return doc, found, err
}

func (s *LoggingStore) UpsertDocument(ctx context.Context, key string, document []byte) error {
	start := time.Now()
	err := s.inner.UpsertDocument(ctx, key, document)
	s.log("upsert", key, err, time.Since(start), zap.Int("bytes", len(document)))
	return err
}

func (s *LoggingStore) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	start := time.Now()
	sub, err := s.inner.Subscribe(ctx, key, filter, handler)
	s.log("subscribe", key, err, time.Since(start), zap.String("filter", string(filter)))
	return sub, err
}

func (s *LoggingStore) log(operation, key string, err error, took time.Duration, fields ...zap.Field) {
	fields = append(fields,
		zap.String("operation", operation),
		zap.String("flowID", key),
		zap.Duration("duration", took),
	)
	if err != nil {
		s.logger.Warn("Store operation failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("Store operation", fields...)
}
