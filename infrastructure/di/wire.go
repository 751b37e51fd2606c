//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"flowbuilder/infrastructure/config"

	"github.com/google/wire"
	"go.uber.org/zap"
)

// ObservabilitySet provides metrics and tracing
var ObservabilitySet = wire.NewSet(
	ProvideCollector,
	ProvideTracer,
)

// StoreSet provides the decorated remote store
var StoreSet = wire.NewSet(
	ProvideSupabaseClient,
	ProvideBackendStore,
	ProvideRemoteStore,
)

// EditorSet provides the session manager and its renderer
var EditorSet = wire.NewSet(
	ProvideHub,
	ProvideSessionOptions,
	ProvideManager,
)

// HTTPSet provides the HTTP surface
var HTTPSet = wire.NewSet(
	ProvideVerifier,
	ProvideRouter,
	ProvideHTTPServer,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ObservabilitySet,
	StoreSet,
	EditorSet,
	HTTPSet,
	wire.Struct(new(App), "*"),
)

// InitializeApp creates a fully wired application. The cleanup unmounts
// every flow, releases store connections and flushes traces.
func InitializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
