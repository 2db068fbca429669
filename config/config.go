// Package config loads and validates the service configuration.
//
// Configuration comes from a YAML file, with defaults applied for anything
// unset and a handful of environment overrides for secrets that should not
// live in files. Every loaded config is checked structurally against a JSON
// schema and then semantically via Validate before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/relaykit/errors"
)

// Transport mode constants.
const (
	TransportLocal = "local" // in-process, no broker
	TransportNATS  = "nats"  // mutations over NATS request/reply
)

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Transport  TransportConfig  `yaml:"transport" json:"transport"`
	NATS       NATSConfig       `yaml:"nats" json:"nats"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`
	Mutation   MutationConfig   `yaml:"mutation" json:"mutation"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	Playground      bool          `yaml:"playground" json:"playground"`
	RateLimit       float64       `yaml:"rate_limit" json:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst" json:"rate_burst"`
	ShutdownTimeout Duration      `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// TransportConfig selects how mutations reach the authoritative store.
type TransportConfig struct {
	Mode string `yaml:"mode" json:"mode"`
}

// NATSConfig defines NATS connection settings, used when the transport mode
// is "nats".
type NATSConfig struct {
	URLs          []string      `yaml:"urls" json:"urls"`
	MaxReconnects int           `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait Duration      `yaml:"reconnect_wait" json:"reconnect_wait"`
	Username      string        `yaml:"username" json:"username,omitempty"`
	Password      string        `yaml:"password" json:"password,omitempty"`
	Token         string        `yaml:"token" json:"token,omitempty"`
}

// AuthConfig defines token verification and the role policy.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Secret  string        `yaml:"secret" json:"secret,omitempty"`
	Issuer  string        `yaml:"issuer" json:"issuer"`
	TTL     Duration      `yaml:"ttl" json:"ttl"`
	// Roles maps an operation name to the roles allowed to perform it.
	// Operations absent from the map are open.
	Roles map[string][]string `yaml:"roles" json:"roles,omitempty"`
}

// PaginationConfig bounds connection resolution.
type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size" json:"max_page_size"`
}

// MutationConfig tunes the reconciler.
type MutationConfig struct {
	Timeout   Duration      `yaml:"timeout" json:"timeout"`
	Workers   int           `yaml:"workers" json:"workers"`
	QueueSize int           `yaml:"queue_size" json:"queue_size"`
}

// CacheConfig tunes the normalized cache.
type CacheConfig struct {
	SubscriptionBuffer int `yaml:"subscription_buffer" json:"subscription_buffer"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Playground:      true,
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Transport: TransportConfig{Mode: TransportLocal},
		NATS: NATSConfig{
			URLs:          []string{"nats://127.0.0.1:4222"},
			MaxReconnects: 10,
			ReconnectWait: Duration(2 * time.Second),
		},
		Auth: AuthConfig{
			Enabled: false,
			Issuer:  "relaykit",
			TTL:     Duration(time.Hour),
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 25,
			MaxPageSize:     250,
		},
		Mutation: MutationConfig{
			Timeout:   Duration(10 * time.Second),
			Workers:   2,
			QueueSize: 128,
		},
		Cache:   CacheConfig{SubscriptionBuffer: 64},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file, applies defaults and environment
// overrides, and validates the result. An empty path returns the validated
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
		}
		if err := ValidateSchema(data); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Load",
				fmt.Sprintf("parse %s: %v", path, err))
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secret-bearing fields from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAYKIT_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("RELAYKIT_NATS_URL"); v != "" {
		cfg.NATS.URLs = strings.Split(v, ",")
	}
	if v := os.Getenv("RELAYKIT_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
}

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
	}

	switch c.Transport.Mode {
	case TransportLocal, TransportNATS:
	default:
		return invalid(fmt.Sprintf("unknown transport mode %q", c.Transport.Mode))
	}
	if c.Transport.Mode == TransportNATS && len(c.NATS.URLs) == 0 {
		return invalid("nats transport requires at least one URL")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"auth enabled without a secret (set RELAYKIT_AUTH_SECRET)")
	}
	if c.Pagination.DefaultPageSize <= 0 || c.Pagination.MaxPageSize <= 0 {
		return invalid("page sizes must be positive")
	}
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return invalid("default page size exceeds max page size")
	}
	if c.Mutation.Timeout <= 0 {
		return invalid("mutation timeout must be positive")
	}
	if c.Mutation.Workers <= 0 || c.Mutation.QueueSize <= 0 {
		return invalid("mutation workers and queue size must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	return nil
}
