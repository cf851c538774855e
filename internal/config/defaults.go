// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when the tokenizer is unavailable.
const TokenEstimateRatio = 4

// DefaultEncoding is the tiktoken encoding used for models tiktoken doesn't know.
const DefaultEncoding = "cl100k_base"

// =============================================================================
// MONITORING WINDOW
// =============================================================================

// DefaultMonitoringWindow is the sliding window size in minutes.
const DefaultMonitoringWindow = 60

// DefaultRecentActions is how many outcomes are rendered as recent actions.
const DefaultRecentActions = 5

// DefaultErrorScanDepth is how many recent errors are scanned for patterns.
const DefaultErrorScanDepth = 10

// =============================================================================
// RISK THRESHOLDS
// =============================================================================

// DefaultHighRiskThreshold flags a check as high risk (overall risk above it).
const DefaultHighRiskThreshold = 0.7

// DefaultRateLimitThreshold raises a rate limit warning above it.
const DefaultRateLimitThreshold = 0.6

// DefaultCostThreshold is the per-call estimated cost (USD) considered expensive.
const DefaultCostThreshold = 0.10

// DefaultTokenThreshold is the per-call estimated token count considered large.
const DefaultTokenThreshold = 4000

// DefaultConsecutiveFailures is the trailing failure count reported as a pattern.
const DefaultConsecutiveFailures = 3

// =============================================================================
// PROBES
// =============================================================================

// DefaultProbeTimeout bounds each system and version-control probe.
const DefaultProbeTimeout = 2 * time.Second

// DefaultLatencyTarget is dialed to measure network latency.
const DefaultLatencyTarget = "api.openai.com:443"

// =============================================================================
// PERSISTENCE AND ALERTS
// =============================================================================

// DefaultMonitoringDataPath is where snapshots are written.
const DefaultMonitoringDataPath = "monitoring-data"

// MaxAlertLogEntries bounds the in-memory alert log.
const MaxAlertLogEntries = 100

// MaxPendingPredictions bounds predictions awaiting an outcome.
const MaxPendingPredictions = 1000

// DefaultAlertRate is how many real-time alerts per second are surfaced.
const DefaultAlertRate = 1.0

// DefaultAlertBurst is the real-time alert burst allowance.
const DefaultAlertBurst = 5

// =============================================================================
// HTTP SERVICE
// =============================================================================

// DefaultServeAddr is the listen address for `callrisk serve`.
const DefaultServeAddr = ":8090"

// MaxRequestBodySize is the maximum accepted request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultServerReadTimeout for the HTTP service.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP service.
const DefaultServerWriteTimeout = 30 * time.Second
