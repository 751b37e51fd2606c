package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save
const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when its YAML file changes and notifies
// registered callbacks with the new value.
type Watcher struct {
	loader   *Loader
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWatcher starts watching loader.File. The directory is watched rather
// than the file so that editors which replace the file are noticed.
func NewWatcher(loader *Loader, initial *Config, logger *zap.Logger) (*Watcher, error) {
	if loader.File == "" {
		return nil, fmt.Errorf("config watcher needs a config file")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(loader.File)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	w := &Watcher{
		loader:   loader,
		debounce: DefaultReloadDebounce,
		logger:   logger.Named("config"),
		config:   initial,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.watchLoop()

	w.logger.Info("Configuration hot reloading enabled", zap.String("file", loader.File))
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	target := filepath.Clean(w.loader.File)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Configuration file changed", zap.String("operation", event.Op.String()))
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error("Invalid configuration after reload, keeping previous", zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.config
	w.config = cfg
	callbacks := append(([]func(*Config))(nil), w.callbacks...)
	w.mu.Unlock()

	if old != nil && old.LogLevel != cfg.LogLevel {
		w.logger.Info("Log level changed", zap.String("from", old.LogLevel), zap.String("to", cfg.LogLevel))
	}
	for _, cb := range callbacks {
		cb(cfg)
	}
	w.logger.Info("Configuration reloaded", zap.Int("callbacks_notified", len(callbacks)))
}

// OnChange registers a callback run after every successful reload
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Config returns the current configuration
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		<-w.done
		_ = w.watcher.Close()
	})
}
