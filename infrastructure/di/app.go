// Package di wires the flow server together. Providers live in
// providers.go; wire.go declares the graph and wire_gen.go is generated
// from it with `wire ./infrastructure/di`.
package di

import (
	"net/http"

	"flowbuilder/application/editor"
	"flowbuilder/application/ports"
	"flowbuilder/infrastructure/config"
	"flowbuilder/interfaces/websocket"
	"flowbuilder/pkg/observability"

	"go.uber.org/zap"
)

// App holds the long-lived components the server process runs
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     ports.RemoteStore
	Manager   *editor.Manager
	Hub       *websocket.Hub
	Collector *observability.Collector
	Server    *http.Server
}
