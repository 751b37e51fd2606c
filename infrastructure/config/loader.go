package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file to load
const EnvConfigFile = "FLOW_CONFIG_FILE"

// Loader layers configuration sources
type Loader struct {
	// File is the YAML file; empty falls back to $FLOW_CONFIG_FILE
	File string
	// DotEnv files are loaded into the process environment without
	// overriding variables that are already set
	DotEnv []string
	// Getenv reads the environment; defaults to os.Getenv
	Getenv func(string) string
}

// Load reads configuration with the default loader
func Load() (*Config, error) {
	return (&Loader{DotEnv: []string{".env"}}).Load()
}

// Load builds the configuration from defaults, the YAML file, .env files and
// the environment, then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = []string{"defaults"}

	for _, file := range l.DotEnv {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, file)
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	file := l.File
	if file == "" {
		file = getenv(EnvConfigFile)
	}
	if file != "" {
		if err := loadYAML(file, cfg); err != nil {
			return nil, err
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, file)
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables; they have the highest priority
func applyEnv(cfg *Config, getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.str("ENVIRONMENT", &cfg.Environment)
	e.str("LOG_LEVEL", &cfg.LogLevel)

	e.str("SERVER_ADDRESS", &cfg.Server.Address)
	e.list("ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	e.str("STORE_BACKEND", &cfg.Store.Backend)
	e.str("SUPABASE_URL", &cfg.Store.Supabase.URL)
	e.str("SUPABASE_SERVICE_ROLE_KEY", &cfg.Store.Supabase.Key)
	e.str("SUPABASE_TABLE", &cfg.Store.Supabase.Table)
	e.str("SUPABASE_REALTIME_URL", &cfg.Store.Supabase.RealtimeURL)
	e.str("REDIS_URL", &cfg.Store.Redis.URL)
	e.str("REDIS_PREFIX", &cfg.Store.Redis.Prefix)
	e.str("DYNAMODB_TABLE", &cfg.Store.DynamoDB.Table)
	e.str("AWS_REGION", &cfg.Store.DynamoDB.Region)
	e.str("DYNAMODB_ENDPOINT", &cfg.Store.DynamoDB.Endpoint)
	e.duration("DYNAMODB_POLL_INTERVAL", &cfg.Store.DynamoDB.PollInterval)
	e.boolean("CIRCUIT_BREAKER_ENABLED", &cfg.Store.CircuitBreaker.Enabled)

	e.duration("SAVE_DEBOUNCE", &cfg.Editor.Debounce)
	e.duration("REQUEST_TIMEOUT", &cfg.Editor.RequestTimeout)

	e.boolean("AUTH_REQUIRED", &cfg.Auth.Required)
	e.boolean("ENABLE_METRICS", &cfg.Features.EnableMetrics)
	e.boolean("ENABLE_TRACING", &cfg.Features.EnableTracing)
	e.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Features.OTLPEndpoint)

	return errors.Join(e.errs...)
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key string, target *string) {
	if v := e.getenv(key); v != "" {
		*target = v
	}
}

func (e *envReader) list(key string, target *[]string) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*target = out
}

func (e *envReader) boolean(key string, target *bool) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*target = b
}

func (e *envReader) duration(key string, target *time.Duration) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*target = d
}
