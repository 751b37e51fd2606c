// Command flowd serves the flow canvas editor over HTTP and websockets
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"flowbuilder/infrastructure/config"
	"flowbuilder/infrastructure/di"
	"flowbuilder/pkg/observability"

	"go.uber.org/zap"
)

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := &config.Loader{DotEnv: []string{".env"}}
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, level, err := observability.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.Strings("sources", cfg.LoadedFrom),
		zap.String("backend", cfg.Store.Backend),
	)

	// Only the log level is applied live; other changes need a restart.
	if loader.File != "" || os.Getenv(config.EnvConfigFile) != "" {
		watcher, err := config.NewWatcher(loader, cfg, logger)
		if err != nil {
			logger.Warn("Config file will not be watched", zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnChange(func(next *config.Config) {
				level.SetLevel(observability.ParseLevel(next.LogLevel))
			})
		}
	}

	app, cleanup, err := di.InitializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	go app.Hub.Run()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.Server.Address),
			zap.String("environment", cfg.Environment),
		)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down server...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	app.Hub.Stop()
	cleanup()

	logger.Info("Server stopped")
}
