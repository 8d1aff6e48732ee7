// Package config loads and validates the agent configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/speculare-cloud/speculare-client/internal/events"
)

// Config holds the agent configuration. It is loaded once at startup and
// passed by pointer to the components that need it.
type Config struct {
	// APIURL is the endpoint snapshots are POSTed to.
	APIURL string `yaml:"api_url"`

	// APIToken authenticates the agent against APIURL.
	APIToken string `yaml:"api_token"`

	// SSOURL, when set, enables re-registration of the host after the
	// server answers 412 Precondition Failed.
	SSOURL string `yaml:"sso_url,omitempty"`

	// HarvestInterval is the number of seconds between two samples.
	HarvestInterval int64 `yaml:"harvest_interval"`

	// SyncingInterval multiplies HarvestInterval to give the number of ticks
	// between flush attempts.
	SyncingInterval int64 `yaml:"syncing_interval"`

	// LoadavgInterval multiplies HarvestInterval to give the number of ticks
	// between load average refreshes.
	LoadavgInterval int64 `yaml:"loadavg_interval"`

	// CacheSize is the minimum cache capacity.
	CacheSize int64 `yaml:"cache_size"`

	// SendTimeout bounds a single flush request.
	SendTimeout time.Duration `yaml:"send_timeout,omitempty"`

	// Plugins lists the collection plugins to run on every harvest.
	Plugins []string `yaml:"plugins,omitempty"`

	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`

	// MetricsAddr, when set, exposes agent metrics for Prometheus scraping.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	OTel OTelConfig `yaml:"otel,omitempty"`
}

// OTelConfig configures the OpenTelemetry exporters for the agent's own telemetry.
type OTelConfig struct {
	// Exporter is one of none, stdout, otlp-grpc, otlp-http.
	Exporter string `yaml:"exporter,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Message)
}

// Default returns a Config with every optional field set to its default.
func Default() *Config {
	return &Config{
		HarvestInterval: DefaultHarvestInterval,
		SyncingInterval: DefaultSyncingInterval,
		LoadavgInterval: DefaultLoadavgInterval,
		CacheSize:       DefaultCacheSize,
		SendTimeout:     DefaultSendTimeout,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		OTel:            OTelConfig{Exporter: "none"},
	}
}

// Load reads the YAML config at path, applies defaults for unset fields and
// environment overrides, then validates the result.
// If envFile is not empty it is loaded into the process environment first.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data into a Config with defaults applied.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with zero values replaced by defaults.
func (c *Config) WithDefaults() *Config {
	result := *c
	d := Default()
	if result.HarvestInterval == 0 {
		result.HarvestInterval = d.HarvestInterval
	}
	if result.SyncingInterval == 0 {
		result.SyncingInterval = d.SyncingInterval
	}
	if result.LoadavgInterval == 0 {
		result.LoadavgInterval = d.LoadavgInterval
	}
	if result.CacheSize == 0 {
		result.CacheSize = d.CacheSize
	}
	if result.SendTimeout == 0 {
		result.SendTimeout = d.SendTimeout
	}
	if result.LogLevel == "" {
		result.LogLevel = d.LogLevel
	}
	if result.LogFormat == "" {
		result.LogFormat = d.LogFormat
	}
	if result.OTel.Exporter == "" {
		result.OTel.Exporter = d.OTel.Exporter
	}
	return &result
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvAPIURL); ok && v != "" {
		c.APIURL = v
	}
	if v, ok := os.LookupEnv(EnvAPIToken); ok && v != "" {
		c.APIToken = v
	}
	if v, ok := os.LookupEnv(EnvSSOURL); ok && v != "" {
		c.SSOURL = v
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := validateEndpoint("api_url", c.APIURL); err != nil {
		return err
	}
	if c.APIToken == "" {
		return &ValidationError{Field: "api_token", Message: "required"}
	}
	if c.SSOURL != "" {
		if err := validateEndpoint("sso_url", c.SSOURL); err != nil {
			return err
		}
	}
	if c.HarvestInterval <= 0 {
		return &ValidationError{Field: "harvest_interval", Message: "must be greater than 0"}
	}
	if c.SyncingInterval <= 0 {
		return &ValidationError{Field: "syncing_interval", Message: "must be greater than 0"}
	}
	if c.LoadavgInterval <= 0 {
		return &ValidationError{Field: "loadavg_interval", Message: "must be greater than 0"}
	}
	if c.CacheSize < 0 {
		return &ValidationError{Field: "cache_size", Message: "must not be negative"}
	}
	if c.SendTimeout <= 0 {
		return &ValidationError{Field: "send_timeout", Message: "must be greater than 0"}
	}
	if _, err := events.ParseLevel(c.LogLevel); err != nil {
		return &ValidationError{Field: "log_level", Message: err.Error()}
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return &ValidationError{Field: "log_format", Message: "must be json or text"}
	}
	switch c.OTel.Exporter {
	case "none", "stdout", "otlp-grpc", "otlp-http":
	default:
		return &ValidationError{Field: "otel.exporter", Message: "must be one of none, stdout, otlp-grpc, otlp-http"}
	}
	return nil
}

func validateEndpoint(field, raw string) error {
	if raw == "" {
		return &ValidationError{Field: field, Message: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: field, Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: field, Message: "host is empty"}
	}
	if u.Scheme == "http" {
		slog.Warn("endpoint is not using TLS", "field", field, "url", raw)
	}
	return nil
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
