package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.IsEnabled())
	assert.True(t, cfg.VersionControlEnabled())
	assert.Equal(t, DefaultMonitoringWindow, cfg.MonitoringWindow)
	assert.Equal(t, time.Hour, cfg.Window())
	assert.Equal(t, DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, DefaultProbeTimeout, cfg.ProbeTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromBytes_PartialThresholds(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
monitoring_window: 30
thresholds:
  cost_threshold: 0.25
enable_real_time_alerts: true
`))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.MonitoringWindow)
	assert.Equal(t, 0.25, cfg.Thresholds.CostThreshold)
	assert.Equal(t, DefaultHighRiskThreshold, cfg.Thresholds.HighRisk)
	assert.Equal(t, DefaultRateLimitThreshold, cfg.Thresholds.RateLimitProbability)
	assert.Equal(t, DefaultTokenThreshold, cfg.Thresholds.TokenThreshold)
	assert.True(t, cfg.EnableRealTimeAlerts)
	assert.True(t, cfg.IsEnabled())
}

func TestLoadFromBytes_Disabled(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("enabled: false\ncollect_version_control: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())
	assert.False(t, cfg.VersionControlEnabled())
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("CALLRISK_DATA", "/tmp/callrisk-data")

	cfg, err := LoadFromBytes([]byte(`
monitoring_data_path: ${CALLRISK_DATA}
history_db_path: ${CALLRISK_UNSET_DB:-/tmp/history.db}
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/callrisk-data", cfg.MonitoringDataPath)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryDBPath)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative window", "monitoring_window: -5"},
		{"zero window", "monitoring_window: 0"},
		{"high risk above one", "thresholds:\n  high_risk: 1.5"},
		{"negative rate threshold", "thresholds:\n  rate_limit_probability: -0.1"},
		{"negative cost", "thresholds:\n  cost_threshold: -1"},
		{"negative tokens", "thresholds:\n  token_threshold: -10"},
		{"zero consecutive failures", "thresholds:\n  high_risk: 0.5\n  consecutive_failures: 0"},
		{"bad log level", "logging:\n  level: loud"},
		{"bad log format", "logging:\n  format: xml"},
		{"negative probe timeout", "probe_timeout: -1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadFromBytes_ZeroProbeTimeoutMeansNoTimeout(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("probe_timeout: 0s\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.ProbeTimeout)
	assert.Equal(t, DefaultMonitoringWindow, cfg.MonitoringWindow)

	cfg, err = LoadFromBytes([]byte("enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultProbeTimeout, cfg.ProbeTimeout)
}

func TestLoadFromBytes_MalformedYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("thresholds: [1, 2"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callrisk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitoring_window: 15\nprobe_timeout: 500ms\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.MonitoringWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.ProbeTimeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("CALLRISK_SET", "value")

	tests := []struct {
		input    string
		expected string
	}{
		{"${CALLRISK_SET}", "value"},
		{"${CALLRISK_SET:-other}", "value"},
		{"${CALLRISK_MISSING:-fallback}", "fallback"},
		{"${CALLRISK_MISSING}", ""},
		{"plain $HOME text", "plain $HOME text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandEnvWithDefaults(tt.input))
		})
	}
}
