package di

import (
	"context"
	"net/http"

	"flowbuilder/application/editor"
	"flowbuilder/application/flowsync"
	"flowbuilder/application/ports"
	"flowbuilder/domain/canvas"
	"flowbuilder/infrastructure/config"
	"flowbuilder/infrastructure/persistence/decorators"
	"flowbuilder/infrastructure/persistence/dynamodb"
	"flowbuilder/infrastructure/persistence/memory"
	"flowbuilder/infrastructure/persistence/redis"
	"flowbuilder/infrastructure/persistence/supabase"
	"flowbuilder/interfaces/http/rest"
	"flowbuilder/interfaces/http/rest/middleware"
	"flowbuilder/interfaces/websocket"
	pkgerrors "flowbuilder/pkg/errors"
	"flowbuilder/pkg/observability"

	"github.com/sony/gobreaker"
	supabaseclient "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ServiceName names the process in traces and the metrics namespace
const ServiceName = "flowbuilder"

// ProvideCollector creates the Prometheus collector
func ProvideCollector() *observability.Collector {
	return observability.NewCollector(ServiceName)
}

// ProvideTracer exports spans when tracing is enabled and returns a no-op
// tracer otherwise. The cleanup flushes pending spans.
func ProvideTracer(cfg *config.Config, logger *zap.Logger) (trace.Tracer, func(), error) {
	if !cfg.Features.EnableTracing {
		return observability.NoopTracer(), func() {}, nil
	}

	tp, err := observability.InitTracing(ServiceName, cfg.Environment, cfg.Features.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	logger.Info("Tracing enabled", zap.String("endpoint", cfg.Features.OTLPEndpoint))
	return tp.Tracer(), cleanup, nil
}

// ProvideSupabaseClient creates the Supabase client when a project is
// configured. It is shared by the supabase store and token verification.
func ProvideSupabaseClient(cfg *config.Config) (*supabaseclient.Client, error) {
	if cfg.Store.Supabase.URL == "" || cfg.Store.Supabase.Key == "" {
		return nil, nil
	}
	return supabase.NewClient(supabaseConfig(cfg))
}

func supabaseConfig(cfg *config.Config) supabase.Config {
	return supabase.Config{
		URL:         cfg.Store.Supabase.URL,
		Key:         cfg.Store.Supabase.Key,
		Table:       cfg.Store.Supabase.Table,
		RealtimeURL: cfg.Store.Supabase.RealtimeURL,
	}
}

// BackendStore is the undecorated store chosen by configuration
type BackendStore interface {
	ports.RemoteStore
}

// ProvideBackendStore creates the store selected by Store.Backend
func ProvideBackendStore(ctx context.Context, cfg *config.Config, client *supabaseclient.Client, logger *zap.Logger) (BackendStore, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("Using the in-memory store; flows are lost on restart")
		return memory.NewDocumentStore(), noop, nil

	case config.BackendSupabase:
		if client == nil {
			return nil, nil, pkgerrors.NewValidationError("supabase backend needs a url and key")
		}
		return supabase.NewStore(client, supabaseConfig(cfg), logger), noop, nil

	case config.BackendRedis:
		rdb, err := redis.NewClient(ctx, cfg.Store.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}
		return redis.NewStore(rdb, cfg.Store.Redis.Prefix, logger), cleanup, nil

	case config.BackendDynamoDB:
		client, err := dynamodb.NewClient(ctx, cfg.Store.DynamoDB.Region, cfg.Store.DynamoDB.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		return dynamodb.NewStore(client, cfg.Store.DynamoDB.Table, cfg.Store.DynamoDB.PollInterval, logger), noop, nil
	}

	return nil, nil, pkgerrors.NewValidationError("unknown store backend: " + cfg.Store.Backend)
}

// ProvideRemoteStore wraps the backend store with the circuit breaker,
// tracing, metrics and logging decorators, innermost first.
func ProvideRemoteStore(backend BackendStore, cfg *config.Config, collector *observability.Collector, tracer trace.Tracer, logger *zap.Logger) ports.RemoteStore {
	var store ports.RemoteStore = backend

	if cb := cfg.Store.CircuitBreaker; cb.Enabled {
		breaker := decorators.DefaultCircuitBreakerConfig(cfg.Store.Backend)
		breaker.FailureThreshold = cb.FailureThreshold
		breaker.MinRequests = cb.MinRequests
		breaker.Interval = cb.Interval
		breaker.Timeout = cb.Timeout
		breaker.OnStateChange = func(name string, state gobreaker.State) {
			collector.SetBreakerState(name, float64(state))
		}
		store = decorators.NewCircuitBreakerStore(store, breaker, logger)
	}

	store = decorators.NewTracingStore(store, tracer, cfg.Store.Backend)
	store = decorators.NewMetricsStore(store, collector, cfg.Store.Backend)
	return decorators.NewLoggingStore(store, logger)
}

// ProvideVerifier checks tokens against Supabase Auth when a project is
// configured; without one every request is anonymous.
func ProvideVerifier(cfg *config.Config, client *supabaseclient.Client, logger *zap.Logger) (middleware.Verifier, error) {
	if client == nil {
		if cfg.Auth.Required {
			return nil, pkgerrors.NewValidationError("auth.required needs a supabase project to verify tokens")
		}
		logger.Warn("No token verifier configured; requests are anonymous")
		return nil, nil
	}
	return supabase.NewTokenVerifier(client.Auth), nil
}

// ProvideHub creates the websocket hub that renders frames to viewers
func ProvideHub(collector *observability.Collector, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(collector, logger)
}

// ProvideSessionOptions applies the editor settings to every session
func ProvideSessionOptions(cfg *config.Config, hub *websocket.Hub, collector *observability.Collector, logger *zap.Logger) editor.SessionOptions {
	return editor.SessionOptions{
		Geometry: canvas.Geometry{
			NodeWidth:     cfg.Editor.NodeWidth,
			NodeHeight:    cfg.Editor.NodeHeight,
			ConnectorSize: cfg.Editor.ConnectorSize,
		},
		Bridge: flowsync.Options{
			Debounce:       cfg.Editor.Debounce,
			RequestTimeout: cfg.Editor.RequestTimeout,
		},
		Renderer: hub,
		Metrics:  collector,
		Logger:   logger,
	}
}

// ProvideManager creates the session manager; the cleanup unmounts every flow
func ProvideManager(store ports.RemoteStore, opts editor.SessionOptions) (*editor.Manager, func()) {
	manager := editor.NewManager(store, opts)
	return manager, manager.CloseAll
}

// ProvideRouter builds the HTTP handler
func ProvideRouter(
	cfg *config.Config,
	manager *editor.Manager,
	hub *websocket.Hub,
	verifier middleware.Verifier,
	collector *observability.Collector,
	logger *zap.Logger,
) http.Handler {
	var metrics rest.Metrics
	if cfg.Features.EnableMetrics {
		metrics = collector
	}
	return rest.NewRouter(manager, hub, verifier, metrics, rest.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthRequired:   cfg.Auth.Required,
		RequestTimeout: cfg.Editor.RequestTimeout,
	}, logger).Setup()
}

// ProvideHTTPServer creates the HTTP server
func ProvideHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
