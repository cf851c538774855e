// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by the collectors, the risk engine, the
// session, the HTTP service and the CLI. Defined here ONCE to avoid
// duplication and circular imports.
//
// TYPES:
//   - CallRequest:          The pending outbound call being assessed
//   - PreCallMetrics:       Computable signals derived before the call
//   - HumanReadableContext: Situational context for operators
//   - RiskAssessment:       Category scores, factors, recommendations
//   - AlertSet:             Threshold projection of the assessment
//   - Snapshot:             Persisted bundle of all of the above
//   - Collaborators:        TokenEstimator, SystemProbe, VCSProbe, SnapshotSink
package monitoring

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/compresr/callrisk/internal/costcontrol"
	"github.com/compresr/callrisk/internal/history"
	"github.com/compresr/callrisk/internal/probes"
)

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// Message is one chat message of a pending request.
type Message = costcontrol.Message

// Estimate is a token/cost projection.
type Estimate = costcontrol.Estimate

// CallOutcome is a recorded call result in the history window.
type CallOutcome = history.CallOutcome

// VCSStatus summarizes the working tree.
type VCSStatus = probes.VCSStatus

// CallRequest describes the outbound call about to be issued.
type CallRequest struct {
	CallID    string    `json:"call_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Purpose   string    `json:"purpose,omitempty"`
	Context   string    `json:"context,omitempty"`   // e.g. "production", "development"
	FilePath  string    `json:"file_path,omitempty"` // file or context path the call concerns
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// CallResult is what the caller reports after executing (or abandoning) a call.
type CallResult struct {
	CallID   string  `json:"call_id"`
	Success  bool    `json:"success"`
	Error    string  `json:"error,omitempty"`
	Provider string  `json:"provider"`
	Model    string  `json:"model,omitempty"`
	Cost     float64 `json:"cost"`
	Tokens   int     `json:"tokens"`
}

// =============================================================================
// METRICS
// =============================================================================

// Millis is a millisecond duration that may be +Inf ("never").
// +Inf is encoded as JSON null.
type Millis float64

// Never is the Millis value for "no such event in the window".
var Never = Millis(math.Inf(1))

// IsNever reports whether m is +Inf.
func (m Millis) IsNever() bool { return math.IsInf(float64(m), 1) }

// MarshalJSON encodes +Inf as null.
func (m Millis) MarshalJSON() ([]byte, error) {
	if m.IsNever() || math.IsNaN(float64(m)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

// UnmarshalJSON decodes null as +Inf.
func (m *Millis) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Never
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Millis(v)
	return nil
}

// PreCallMetrics holds computable signals for one pending call.
type PreCallMetrics struct {
	EstimatedTokens       int     `json:"estimated_tokens"`
	EstimatedCost         float64 `json:"estimated_cost"`
	MessageComplexity     float64 `json:"message_complexity"`
	RequestUrgency        float64 `json:"request_urgency"`
	RecentCallFrequency   float64 `json:"recent_call_frequency"`
	RecentErrorRate       float64 `json:"recent_error_rate"`
	RecentRateLimitEvents int     `json:"recent_rate_limit_events"`
	ProviderLoad          float64 `json:"provider_load"`
	TimeSinceLastSuccess  Millis  `json:"time_since_last_success"`
	SessionDuration       Millis  `json:"session_duration"`
	MemoryUsage           float64 `json:"memory_usage"`    // MB
	CPUUsage              float64 `json:"cpu_usage"`       // percent
	NetworkLatency        float64 `json:"network_latency"` // ms
	ConsecutiveFailures   int     `json:"consecutive_failures"`
}

// EmptyMetrics is the neutral bundle used when monitoring is disabled or fails.
func EmptyMetrics() PreCallMetrics {
	return PreCallMetrics{TimeSinceLastSuccess: Never}
}

// =============================================================================
// CONTEXT
// =============================================================================

// HumanReadableContext is situational context derived fresh per call.
type HumanReadableContext struct {
	Intent         string               `json:"intent"`
	Workflow       string               `json:"workflow"`
	RecentActions  []string             `json:"recent_actions"`
	VersionControl *VersionControlState `json:"version_control,omitempty"`
	Time           TimeContext          `json:"time"`
	ErrorPatterns  *ErrorPatternContext `json:"error_patterns,omitempty"`
}

// VersionControlState is the optional workspace state.
type VersionControlState struct {
	Branch           string `json:"branch,omitempty"`
	Dirty            bool   `json:"dirty"`
	UncommittedCount int    `json:"uncommitted_count"`
	LastCommit       string `json:"last_commit,omitempty"`
}

// TimeContext is a pure function of the current time.
type TimeContext struct {
	Timestamp       time.Time `json:"timestamp"`
	Hour            int       `json:"hour"`
	Weekday         string    `json:"weekday"`
	IsBusinessHours bool      `json:"is_business_hours"`
	IsWeekend       bool      `json:"is_weekend"`
	Timezone        string    `json:"timezone"`
}

// ErrorPatternContext summarizes recurring errors in the window.
type ErrorPatternContext struct {
	RecentErrors []string `json:"recent_errors"`
	Patterns     []string `json:"patterns"`
}

// =============================================================================
// RISK / ALERTS
// =============================================================================

// ScoringPolicy names the rule set that produced an assessment.
type ScoringPolicy string

// ScoringPolicyV1 is the additive, max-aggregated rule set.
const ScoringPolicyV1 ScoringPolicy = "additive-max-v1"

// RiskAssessment holds category scores and their explanations.
type RiskAssessment struct {
	Policy               ScoringPolicy `json:"policy"`
	RateLimitProbability float64       `json:"rate_limit_probability"`
	CostRisk             float64       `json:"cost_risk"`
	PerformanceRisk      float64       `json:"performance_risk"`
	SecurityRisk         float64       `json:"security_risk"`
	OverallRisk          float64       `json:"overall_risk"`
	RiskFactors          []string      `json:"risk_factors"`
	Recommendations      []string      `json:"recommendations"`
}

// AlertSet is the threshold projection of metrics and risk.
type AlertSet struct {
	HighRisk         bool     `json:"high_risk"`
	RateLimitWarning bool     `json:"rate_limit_warning"`
	CostAlert        bool     `json:"cost_alert"`
	PerformanceAlert bool     `json:"performance_alert"`
	Messages         []string `json:"messages"`
}

// Any reports whether any flag is set.
func (a AlertSet) Any() bool {
	return a.HighRisk || a.RateLimitWarning || a.CostAlert || a.PerformanceAlert
}

// Immediate reports whether a flag surfaced by real-time alerts is set.
// Cost and performance alerts are only logged and returned.
func (a AlertSet) Immediate() bool {
	return a.HighRisk || a.RateLimitWarning
}

// ImmediateMessages returns the messages of the immediate flags. They lead
// Messages because generation order is high risk, rate limit, cost, performance.
func (a AlertSet) ImmediateMessages() []string {
	n := 0
	if a.HighRisk {
		n++
	}
	if a.RateLimitWarning {
		n++
	}
	return a.Messages[:min(n, len(a.Messages))]
}

// Snapshot is the write-once result of one MonitorBeforeCall.
type Snapshot struct {
	SessionID string               `json:"session_id"`
	CallID    string               `json:"call_id"`
	Provider  string               `json:"provider,omitempty"`
	Model     string               `json:"model,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Enabled   bool                 `json:"enabled"`
	Degraded  bool                 `json:"degraded"` // collection failed; neutral bundle returned
	Metrics   PreCallMetrics       `json:"metrics"`
	Context   HumanReadableContext `json:"context"`
	Risk      RiskAssessment       `json:"risk"`
	Alerts    AlertSet             `json:"alerts"`
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// TokenEstimator projects tokens and cost for a pending request.
type TokenEstimator interface {
	Estimate(ctx context.Context, messages []Message, model string, maxOutputTokens int) (Estimate, error)
}

// SystemProbe reads live process and network signals.
type SystemProbe interface {
	MemoryUsageMB(ctx context.Context) (float64, error)
	CPUUsagePercent(ctx context.Context) (float64, error)
	NetworkLatencyMs(ctx context.Context) (float64, error)
}

// VCSProbe reads version-control state. Absence of a repository is an error, not a failure.
type VCSProbe interface {
	CurrentBranch(ctx context.Context) (string, error)
	Status(ctx context.Context) (*VCSStatus, error)
	LastCommitSummary(ctx context.Context) (string, error)
}

// SnapshotSink persists snapshots. Failures are logged by the session, never raised.
type SnapshotSink interface {
	Write(ctx context.Context, snapshot *Snapshot) error
}
