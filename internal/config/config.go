// Package config loads the stowaway YAML configuration.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// APIKeyEnv overrides remote.api_key when set.
const APIKeyEnv = "STOW_API_KEY"

// Config is the complete stowaway configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database" json:"database"`
	Connectivity ConnectivityConfig `yaml:"connectivity" json:"connectivity"`
	Sync         SyncConfig         `yaml:"sync" json:"sync"`
	Remote       RemoteConfig       `yaml:"remote" json:"remote"`
	Metrics      MetricsConfig      `yaml:"metrics" json:"metrics"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

// DatabaseConfig holds Durable Store settings.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
	Lock bool   `yaml:"lock" json:"lock"`
}

// ConnectivityConfig holds connectivity monitor settings.
type ConnectivityConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ProbeURL        string        `yaml:"probe_url" json:"probe_url"` // defaults to remote.base_url
	ProbeInterval   time.Duration `yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	WatchInterfaces []string      `yaml:"watch_interfaces" json:"watch_interfaces"`
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	WritePolicy     string        `yaml:"write_policy" json:"write_policy"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max" json:"backoff_max"`
	TransmitDeletes bool          `yaml:"transmit_deletes" json:"transmit_deletes"`
}

// RemoteConfig holds HTTP remote settings.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// MetricsConfig holds metrics settings. An empty Addr disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "stow.db",
			Lock: true,
		},
		Connectivity: ConnectivityConfig{
			PollInterval:    5 * time.Second,
			ProbeInterval:   15 * time.Second,
			ProbeTimeout:    5 * time.Second,
			WatchInterfaces: []string{},
		},
		Sync: SyncConfig{
			WritePolicy:     "push_online",
			Timeout:         30 * time.Second,
			MaxRetries:      5,
			BackoffBase:     time.Second,
			BackoffMax:      5 * time.Minute,
			TransmitDeletes: true,
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration at path. An empty path yields the defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Connectivity.WatchInterfaces == nil {
		cfg.Connectivity.WatchInterfaces = []string{}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv(APIKeyEnv); key != "" {
		c.Remote.APIKey = key
	}
}

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// ProbeURL returns the URL the connectivity probe targets.
func (c *Config) ProbeURL() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	return c.Remote.BaseURL
}

// ValidationError reports a configuration that violates the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Details
}
