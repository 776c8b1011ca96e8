// Package config loads procguard settings from TOML or YAML files and the
// environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/events"
	"github.com/vinayprograms/procguard/liveness"
	"github.com/vinayprograms/procguard/logging"
)

// Environment variables that override file settings.
const (
	EnvLogLevel     = "PROCGUARD_LOG_LEVEL"
	EnvParentPID    = "PROCGUARD_PARENT_PID"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Event backends.
const (
	BackendNone = "none"
	BackendNATS = "nats"
)

// Config is the complete procguard configuration.
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	Liveness  LivenessConfig  `toml:"liveness" yaml:"liveness"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Events    EventsConfig    `toml:"events" yaml:"events"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`
}

// LivenessConfig configures the parent liveness monitor.
type LivenessConfig struct {
	// Enabled starts the monitor in `procguard run`.
	Enabled bool `toml:"enabled" yaml:"enabled"`

	liveness.Config `yaml:",inline"`
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	Endpoint    string `toml:"endpoint" yaml:"endpoint"`
	Protocol    string `toml:"protocol" yaml:"protocol"`
	Insecure    bool   `toml:"insecure" yaml:"insecure"`
	ServiceName string `toml:"service_name" yaml:"service_name"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	// Backend is "none" or "nats".
	Backend string            `toml:"backend" yaml:"backend"`
	NATS    events.NATSConfig `toml:"nats" yaml:"nats"`
}

// Default returns configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Liveness: LivenessConfig{
			Enabled: false,
			Config:  liveness.DefaultConfig(),
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "procguard",
		},
		Events: EventsConfig{
			Backend: BackendNone,
			NATS:    events.DefaultNATSConfig(),
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return pgerrors.InvalidConfig("unknown log level: " + c.Log.Level)
	}

	if err := c.Liveness.Config.Validate(); err != nil {
		return err
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return pgerrors.InvalidConfig("unknown telemetry protocol: " + c.Telemetry.Protocol)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return pgerrors.InvalidConfig("telemetry enabled without an endpoint")
	}

	switch c.Events.Backend {
	case BackendNone:
	case BackendNATS:
		if err := c.Events.NATS.Validate(); err != nil {
			return err
		}
	default:
		return pgerrors.InvalidConfig("unknown events backend: " + c.Events.Backend)
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"procguard.toml", "procguard.yaml", "procguard.yml"}

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths,
			filepath.Join(dir, "procguard", "config.toml"),
			filepath.Join(dir, "procguard", "config.yaml"),
		)
	}
	return paths
}

// Load reads the first config file found in StandardPaths, applies the
// environment and validates the result. Without any file the defaults are
// used. The returned path is empty in that case.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// LoadFile reads path as TOML or YAML depending on its extension, on top
// of the defaults, then applies the environment and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pgerrors.InvalidConfig("reading "+path, pgerrors.WithCause(err))
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, pgerrors.InvalidConfig("parsing "+path, pgerrors.WithCause(err))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, pgerrors.InvalidConfig("parsing "+path, pgerrors.WithCause(err))
		}
	default:
		return nil, pgerrors.InvalidConfig("unsupported config format: " + path)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvParentPID); v != "" {
		pid, err := strconv.Atoi(v)
		if err != nil {
			return pgerrors.InvalidConfig(EnvParentPID+" is not a number: "+v, pgerrors.WithCause(err))
		}
		c.Liveness.ParentPID = pid
		c.Liveness.Enabled = true
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	return nil
}
