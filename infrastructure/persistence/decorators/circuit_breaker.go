// Package decorators wraps a RemoteStore with cross-cutting behavior. Each
// decorator implements ports.RemoteStore and can be stacked in any order.
package decorators

import (
	"context"
	"errors"
	"time"

	"flowbuilder/application/ports"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CircuitBreakerConfig holds configuration for the store circuit breaker
type CircuitBreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio at which the breaker opens once
	// MinRequests have been seen in the current interval
	FailureThreshold float64
	MinRequests      uint32

	OnStateChange func(name string, state gobreaker.State)
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// CircuitBreakerStore stops calling a failing store for a while so that
// editors get a fast REMOTE_UNAVAILABLE instead of waiting on timeouts.
type CircuitBreakerStore struct {
	inner  ports.RemoteStore
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewCircuitBreakerStore wraps inner with a circuit breaker
func NewCircuitBreakerStore(inner ports.RemoteStore, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if config.OnStateChange != nil {
				config.OnStateChange(name, to)
			}
		},
		// A cancelled request was abandoned by the editor, not failed by the store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerStore{inner: inner, cb: cb, logger: logger}
}

// State returns the breaker state
func (s *CircuitBreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *CircuitBreakerStore) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	type result struct {
		doc   []byte
		found bool
	}
	out, err := s.cb.Execute(func() (interface{}, error) {
		doc, found, err := s.inner.GetDocument(ctx, key)
		return result{doc: doc, found: found}, err
	})
	if err != nil {
		return nil, false, s.translate("get", err)
	}
	r := out.(result)
	return r.doc, r.found, nil
}

func (s *CircuitBreakerStore) UpsertDocument(ctx context.Context, key string, document []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.UpsertDocument(ctx, key, document)
	})
	return s.translate("upsert", err)
}

func (s *CircuitBreakerStore) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Subscribe(ctx, key, filter, handler)
	})
	if err != nil {
		return nil, s.translate("subscribe", err)
	}
	return out.(ports.Subscription), nil
}

func (s *CircuitBreakerStore) translate(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewRemoteUnavailableError(operation, err).WithCode("CIRCUIT_OPEN")
	}
	return err
}
