// Package config loads chronostate settings from a YAML file and
// CHRONOSTATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "chronostate.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHRONOSTATE_"

// Config is the full chronostate configuration.
type Config struct {
	Filter     Filter     `yaml:"filter" envPrefix:"FILTER_"`
	Validation Validation `yaml:"validation" envPrefix:"VALIDATION_"`
	Store      Store      `yaml:"store" envPrefix:"STORE_"`
	Feed       Feed       `yaml:"feed" envPrefix:"FEED_"`
	Metrics    Metrics    `yaml:"metrics" envPrefix:"METRICS_"`
	Telemetry  Telemetry  `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// Filter selects which objects are recorded.
type Filter struct {
	// Engine is "selective", "expr" or "cel"
	Engine string `yaml:"engine" env:"ENGINE"`

	// Selective rules. Exclusions take precedence over inclusions, and an
	// empty include list means every body.
	IncludeBodies []uint32 `yaml:"include_bodies,omitempty" env:"INCLUDE_BODIES"`
	ExcludeBodies []uint32 `yaml:"exclude_bodies,omitempty" env:"EXCLUDE_BODIES"`
	IncludeLayers []int    `yaml:"include_layers,omitempty" env:"INCLUDE_LAYERS"`
	ExcludeStatic bool     `yaml:"exclude_static" env:"EXCLUDE_STATIC"`
	Contacts      bool     `yaml:"contacts" env:"CONTACTS"`
	Constraints   bool     `yaml:"constraints" env:"CONSTRAINTS"`

	// Expressions for the expr and cel engines. Empty means true.
	Body       string `yaml:"body" env:"BODY"`
	Constraint string `yaml:"constraint" env:"CONSTRAINT"`
	Contact    string `yaml:"contact" env:"CONTACT"`

	// CacheSize > 0 memoizes decisions per object.
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
}

// Validation controls divergence reporting.
type Validation struct {
	// Policy is "all" or "first"
	Policy string `yaml:"policy" env:"POLICY"`
	Log    bool   `yaml:"log" env:"LOG"`
}

// Store selects the snapshot backend.
type Store struct {
	// Backend is "memory", "file", "sqlite" or "redis"
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the directory for file and the database file for sqlite
	Path    string `yaml:"path" env:"PATH"`
	HMACKey string `yaml:"hmac_key" env:"HMAC_KEY"`

	// EncryptionKey seals file snapshots with AES-GCM; 16, 24 or 32 bytes
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

// Feed configures the websocket divergence feed.
type Feed struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Metrics configures the prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// Telemetry configures otel tracing. An empty endpoint disables export.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Filter: Filter{
			Engine:      "selective",
			Contacts:    true,
			Constraints: true,
		},
		Validation: Validation{
			Policy: "all",
			Log:    true,
		},
		Store: Store{
			Backend:     "file",
			Path:        ".chronostate",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "chronostate",
		},
		Feed: Feed{
			Addr: ":8089",
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
		Telemetry: Telemetry{
			ServiceName: "chronostate",
		},
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	var errs []error
	switch c.Filter.Engine {
	case "", "selective", "expr", "cel":
	default:
		errs = append(errs, fmt.Errorf("filter.engine: unknown engine %q", c.Filter.Engine))
	}
	for _, l := range c.Filter.IncludeLayers {
		if l < 0 || l > 255 {
			errs = append(errs, fmt.Errorf("filter.include_layers: layer %d out of range", l))
		}
	}
	if c.Filter.CacheSize < 0 {
		errs = append(errs, errors.New("filter.cache_size must not be negative"))
	}
	switch c.Validation.Policy {
	case "", "all", "first":
	default:
		errs = append(errs, fmt.Errorf("validation.policy: unknown policy %q", c.Validation.Policy))
	}
	switch c.Store.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s backend", c.Store.Backend))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	switch len(c.Store.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		errs = append(errs, errors.New("store.encryption_key must be 16, 24 or 32 bytes long"))
	}
	return errors.Join(errs...)
}

// LoadFile reads a YAML file over the defaults and applies environment
// overrides. A missing file at DefaultFile is not an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := FromEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnv overlays CHRONOSTATE_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

const exampleHeader = `# chronostate configuration
#
# Every key can be overridden with a CHRONOSTATE_<SECTION>_<KEY> environment
# variable, e.g. CHRONOSTATE_STORE_BACKEND=sqlite.
#
# filter.engine: selective | expr | cel
# store.backend: memory | file | sqlite | redis
# validation.policy: all | first

`

// WriteExample writes the defaults as a commented YAML file.
func WriteExample(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode example config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(exampleHeader), data...), 0644); err != nil {
		return fmt.Errorf("write example config: %w", err)
	}
	return nil
}
