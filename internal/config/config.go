// Package config loads and validates the monitoring engine configuration.
//
// DESIGN: Configuration is read once (YAML, with ${VAR} expansion), defaults are
// applied, and Validate rejects anything that would surface mid-session. The
// resulting Config is treated as immutable by every consumer.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration.
type Config struct {
	Enabled               *bool         `yaml:"enabled"`
	MonitoringWindow      int           `yaml:"monitoring_window"` // minutes
	Thresholds            Thresholds    `yaml:"thresholds"`
	MonitoringDataPath    string        `yaml:"monitoring_data_path"`
	EnableRealTimeAlerts  bool          `yaml:"enable_real_time_alerts"`
	HistoryDBPath         string        `yaml:"history_db_path"`
	CollectVersionControl *bool         `yaml:"collect_version_control"`
	Workdir               string        `yaml:"workdir"`
	LatencyTarget         string        `yaml:"latency_target"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout"`
	Logging               LoggingConfig `yaml:"logging"`
}

// Thresholds holds the risk and alert thresholds.
type Thresholds struct {
	HighRisk             float64 `yaml:"high_risk"`              // 0..1
	RateLimitProbability float64 `yaml:"rate_limit_probability"` // 0..1
	CostThreshold        float64 `yaml:"cost_threshold"`         // USD per call
	TokenThreshold       int     `yaml:"token_threshold"`        // tokens per call
	ConsecutiveFailures  int     `yaml:"consecutive_failures"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// Default returns a config with every default applied.
// Window and probe timeout are only set here: LoadFromBytes starts from
// Default, so an explicit 0 in YAML survives to Validate.
func Default() *Config {
	cfg := &Config{
		MonitoringWindow: DefaultMonitoringWindow,
		ProbeTimeout:     DefaultProbeTimeout,
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses, defaults and validates YAML config bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	// Thresholds may be partially specified; start from defaults so omitted
	// keys keep their default rather than zero.
	cfg := Default()
	cfg.Enabled = nil
	cfg.CollectVersionControl = nil
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsEnabled reports the master switch (default true).
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// VersionControlEnabled reports whether the git probe runs (default true).
func (c *Config) VersionControlEnabled() bool {
	return c.CollectVersionControl == nil || *c.CollectVersionControl
}

// Window returns the monitoring window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.MonitoringWindow) * time.Minute
}

func (c *Config) applyDefaults() {
	if c.Enabled == nil {
		c.Enabled = boolPtr(true)
	}
	if c.CollectVersionControl == nil {
		c.CollectVersionControl = boolPtr(true)
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	if c.MonitoringDataPath == "" {
		c.MonitoringDataPath = DefaultMonitoringDataPath
	}
	if c.Workdir == "" {
		c.Workdir = "."
	}
	if c.LatencyTarget == "" {
		c.LatencyTarget = DefaultLatencyTarget
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// DefaultThresholds returns the default risk and alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighRisk:             DefaultHighRiskThreshold,
		RateLimitProbability: DefaultRateLimitThreshold,
		CostThreshold:        DefaultCostThreshold,
		TokenThreshold:       DefaultTokenThreshold,
		ConsecutiveFailures:  DefaultConsecutiveFailures,
	}
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.MonitoringWindow <= 0 {
		return invalid("monitoring_window must be > 0, got %d", c.MonitoringWindow)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.ProbeTimeout < 0 {
		return invalid("probe_timeout must be >= 0, got %s", c.ProbeTimeout)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return invalid("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Validate checks threshold ranges.
func (t Thresholds) Validate() error {
	if t.HighRisk < 0 || t.HighRisk > 1 {
		return invalid("thresholds.high_risk must be within [0,1], got %f", t.HighRisk)
	}
	if t.RateLimitProbability < 0 || t.RateLimitProbability > 1 {
		return invalid("thresholds.rate_limit_probability must be within [0,1], got %f", t.RateLimitProbability)
	}
	if t.CostThreshold < 0 {
		return invalid("thresholds.cost_threshold must be >= 0, got %f", t.CostThreshold)
	}
	if t.TokenThreshold < 0 {
		return invalid("thresholds.token_threshold must be >= 0, got %d", t.TokenThreshold)
	}
	if t.ConsecutiveFailures < 1 {
		return invalid("thresholds.consecutive_failures must be >= 1, got %d", t.ConsecutiveFailures)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func boolPtr(b bool) *bool { return &b }

// =============================================================================
// ENVIRONMENT EXPANSION
// =============================================================================

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func ExpandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[3]
	})
}
