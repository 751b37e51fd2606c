// Package config loads the flow server configuration from defaults, an
// optional YAML file, a .env file and the environment, in that order.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendSupabase = "supabase"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development staging production test"`
	LogLevel    string `yaml:"log_level" validate:"required,oneof=debug info warn error"`

	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
	Editor   Editor   `yaml:"editor"`
	Auth     Auth     `yaml:"auth"`
	Features Features `yaml:"features"`

	// LoadedFrom lists the sources that contributed, lowest priority first
	LoadedFrom []string `yaml:"-"`
}

// Server configures the HTTP listener
type Server struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Store selects and configures the document backend
type Store struct {
	Backend        string         `yaml:"backend" validate:"required,oneof=memory supabase redis dynamodb"`
	Supabase       Supabase       `yaml:"supabase"`
	Redis          Redis          `yaml:"redis"`
	DynamoDB       DynamoDB       `yaml:"dynamodb"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`
}

type Supabase struct {
	URL         string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Key         string `yaml:"key" validate:"required_if=Enabled true"`
	Table       string `yaml:"table"`
	RealtimeURL string `yaml:"realtime_url" validate:"omitempty,url"`
	// Enabled is derived from the backend choice and not read from files
	Enabled bool `yaml:"-"`
}

type Redis struct {
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Prefix  string `yaml:"prefix"`
	Enabled bool   `yaml:"-"`
}

type DynamoDB struct {
	Table        string        `yaml:"table" validate:"required_if=Enabled true"`
	Region       string        `yaml:"region" validate:"required_if=Enabled true"`
	Endpoint     string        `yaml:"endpoint" validate:"omitempty,url"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
	Enabled      bool          `yaml:"-"`
}

type CircuitBreaker struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" validate:"gt=0"`
	Interval         time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Editor tunes the save pipeline of every mounted flow
type Editor struct {
	Debounce       time.Duration `yaml:"debounce" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	NodeWidth      float64       `yaml:"node_width" validate:"gt=0"`
	NodeHeight     float64       `yaml:"node_height" validate:"gt=0"`
	ConnectorSize  float64       `yaml:"connector_size" validate:"gt=0"`
}

type Auth struct {
	Required bool `yaml:"required"`
}

type Features struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing"`
	OTLPEndpoint  string `yaml:"otlp_endpoint" validate:"required_if=EnableTracing true"`
}

// Default returns a configuration that runs locally against the in-memory store
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Server: Server{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store: Store{
			Backend:  BackendMemory,
			Supabase: Supabase{Table: "chat_flows"},
			Redis:    Redis{Prefix: "flow"},
			DynamoDB: DynamoDB{Region: "us-east-1", PollInterval: 2 * time.Second},
			CircuitBreaker: CircuitBreaker{
				Enabled:          true,
				FailureThreshold: 0.6,
				MinRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
			},
		},
		Editor: Editor{
			Debounce:       500 * time.Millisecond,
			RequestTimeout: 10 * time.Second,
			NodeWidth:      150,
			NodeHeight:     60,
			ConnectorSize:  16,
		},
		Features: Features{EnableMetrics: true},
	}
}

var validate = validator.New()

// Validate checks the configuration, including the settings the selected
// backend needs
func (c *Config) Validate() error {
	c.Store.Supabase.Enabled = c.Store.Backend == BackendSupabase
	c.Store.Redis.Enabled = c.Store.Backend == BackendRedis
	c.Store.DynamoDB.Enabled = c.Store.Backend == BackendDynamoDB

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
