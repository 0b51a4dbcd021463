// ABOUTME: Configuration loading and parsing for fleetd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fleetd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Admission AdmissionConfig `yaml:"admission"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the decision ledger location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// CatalogConfig points at the agent manifest catalog.
type CatalogConfig struct {
	// Path to a YAML catalog file. Empty means built-in defaults only;
	// a file extends or overwrites the defaults per agent_type_id.
	Path string `yaml:"path"`
	// SkipDefaults drops the built-in catalog entirely.
	SkipDefaults bool `yaml:"skip_defaults"`
}

// AdmissionConfig tunes the admission controller.
type AdmissionConfig struct {
	// FailClosed denies actions from unregistered agent types instead of
	// the fail-open default.
	FailClosed bool `yaml:"fail_closed"`
}

// FleetConfig holds fleet timing and dispatch configuration.
type FleetConfig struct {
	HeartbeatTimeout time.Duration `yaml:"-"`
	DispatchInterval time.Duration `yaml:"-"`
	MaxFanOut        int           `yaml:"max_fan_out"`

	// Raw string values for YAML unmarshaling
	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout"`
	DispatchIntervalRaw string `yaml:"dispatch_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are absent from the file.
const (
	defaultHTTPAddr         = "127.0.0.1:8480"
	defaultDatabasePath     = "fleetd.db"
	defaultHeartbeatTimeout = 90 * time.Second
	defaultDispatchInterval = 2 * time.Second
	defaultMaxFanOut        = 3
)

// Load reads a configuration file from the given path and returns a
// parsed Config. Environment variables in the format ${VAR_NAME} are
// expanded. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a runnable configuration without reading any file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in unset fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = defaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Fleet.HeartbeatTimeout == 0 {
		c.Fleet.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Fleet.DispatchInterval == 0 {
		c.Fleet.DispatchInterval = defaultDispatchInterval
	}
	if c.Fleet.MaxFanOut == 0 {
		c.Fleet.MaxFanOut = defaultMaxFanOut
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Fleet.MaxFanOut < 1 {
		return fmt.Errorf("fleet.max_fan_out must be at least 1")
	}
	if c.Fleet.HeartbeatTimeout < time.Second {
		return fmt.Errorf("fleet.heartbeat_timeout must be at least 1s")
	}
	if c.Catalog.SkipDefaults && c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required when catalog.skip_defaults is set")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Fleet.HeartbeatTimeoutRaw != "" {
		cfg.Fleet.HeartbeatTimeout, err = time.ParseDuration(cfg.Fleet.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Fleet.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Fleet.DispatchIntervalRaw != "" {
		cfg.Fleet.DispatchInterval, err = time.ParseDuration(cfg.Fleet.DispatchIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing dispatch_interval %q: %w", cfg.Fleet.DispatchIntervalRaw, err)
		}
	}

	return nil
}
