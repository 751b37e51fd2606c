package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowbuilder/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := (&config.Loader{Getenv: envMap(nil)}).Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Editor.Debounce)
	assert.Equal(t, 10*time.Second, cfg.Editor.RequestTimeout)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)
}

func TestLoad_YAMLThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "flow.yaml", `
environment: staging
log_level: debug
store:
  backend: redis
  redis:
    url: redis://localhost:6379/0
editor:
  debounce: 250ms
`)

	cfg, err := (&config.Loader{
		File: file,
		Getenv: envMap(map[string]string{
			"LOG_LEVEL":       "warn",
			"REQUEST_TIMEOUT": "3s",
			"ALLOWED_ORIGINS": "https://a.example, https://b.example",
		}),
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, config.BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.Redis.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Editor.Debounce)
	assert.Equal(t, 3*time.Second, cfg.Editor.RequestTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"defaults", file, "environment"}, cfg.LoadedFrom)
}

func TestLoad_ConfigFileFromEnvironment(t *testing.T) {
	file := writeFile(t, t.TempDir(), "flow.yaml", "log_level: error\n")

	cfg, err := (&config.Loader{Getenv: envMap(map[string]string{config.EnvConfigFile: file})}).Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "FLOWTEST_DOTENV_MARKER=present\n")
	t.Cleanup(func() { os.Unsetenv("FLOWTEST_DOTENV_MARKER") })

	cfg, err := (&config.Loader{
		DotEnv: []string{filepath.Join(dir, "missing.env"), dotenv},
		Getenv: envMap(nil),
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, "present", os.Getenv("FLOWTEST_DOTENV_MARKER"))
	assert.Contains(t, cfg.LoadedFrom, dotenv)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		file   string
		env    map[string]string
		errMsg string
	}{
		{
			name:   "unknown yaml field",
			file:   writeFile(t, dir, "unknown.yaml", "colour: blue\n"),
			errMsg: "colour",
		},
		{
			name:   "missing file",
			file:   filepath.Join(dir, "absent.yaml"),
			errMsg: "failed to open config file",
		},
		{
			name:   "bad duration",
			env:    map[string]string{"SAVE_DEBOUNCE": "soon"},
			errMsg: "SAVE_DEBOUNCE",
		},
		{
			name:   "bad bool",
			env:    map[string]string{"AUTH_REQUIRED": "maybe"},
			errMsg: "AUTH_REQUIRED",
		},
		{
			name:   "unknown backend",
			env:    map[string]string{"STORE_BACKEND": "postgres"},
			errMsg: "Backend",
		},
		{
			name:   "supabase without credentials",
			env:    map[string]string{"STORE_BACKEND": "supabase"},
			errMsg: "URL",
		},
		{
			name:   "dynamodb without table",
			env:    map[string]string{"STORE_BACKEND": "dynamodb"},
			errMsg: "Table",
		},
		{
			name:   "tracing without endpoint",
			env:    map[string]string{"ENABLE_TRACING": "true"},
			errMsg: "OTLPEndpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&config.Loader{File: tt.file, Getenv: envMap(tt.env)}).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_SupabaseComplete(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendSupabase
	cfg.Store.Supabase.URL = "https://abc.supabase.co"
	cfg.Store.Supabase.Key = "service-key"

	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Store.Supabase.Enabled)
	assert.False(t, cfg.Store.Redis.Enabled)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "flow.yaml", "log_level: info\n")
	loader := &config.Loader{File: file, Getenv: envMap(nil)}

	initial, err := loader.Load()
	require.NoError(t, err)

	watcher, err := config.NewWatcher(loader, initial, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	levels := make(chan string, 4)
	watcher.OnChange(func(cfg *config.Config) {
		select {
		case levels <- cfg.LogLevel:
		default:
		}
	})

	require.NoError(t, os.WriteFile(file, []byte("log_level: debug\n"), 0o600))

	select {
	case level := <-levels:
		assert.Equal(t, "debug", level)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not observed")
	}
	assert.Equal(t, "debug", watcher.Config().LogLevel)
}

func TestWatcher_KeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "flow.yaml", "log_level: info\n")
	loader := &config.Loader{File: file, Getenv: envMap(nil)}

	initial, err := loader.Load()
	require.NoError(t, err)
	watcher, err := config.NewWatcher(loader, initial, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	changed := make(chan struct{}, 1)
	watcher.OnChange(func(*config.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	require.NoError(t, os.WriteFile(file, []byte("log_level: loud\n"), 0o600))

	select {
	case <-changed:
		t.Fatal("invalid configuration was applied")
	case <-time.After(1500 * time.Millisecond):
	}
	assert.Same(t, initial, watcher.Config())
}

func TestNewWatcher_RequiresFile(t *testing.T) {
	_, err := config.NewWatcher(&config.Loader{}, config.Default(), nil)
	assert.Error(t, err)
}
