// Package monitoring - stats.go provides session counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - checks:      total, degraded, high-risk and alerting checks
//   - outcomes:    recorded call results, failures, actual cost/tokens
//   - calibration: high-risk predictions followed by failure (hits) or
//     success (misses), plus low-risk predictions followed by failure
//   - usage:       actual spend per provider/model
//
// Exporter publishes the same counters to Prometheus.
package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stats collects session counters.
type Stats struct {
	startedAt time.Time

	// Check counters
	checks           atomic.Int64
	degradedChecks   atomic.Int64
	disabledChecks   atomic.Int64
	highRiskChecks   atomic.Int64
	alertingChecks   atomic.Int64
	alertsSuppressed atomic.Int64

	// Outcome counters
	outcomes     atomic.Int64
	failures     atomic.Int64
	rateLimited  atomic.Int64
	actualTokens atomic.Int64
	unmatched    atomic.Int64 // outcomes with no pending prediction

	// Calibration counters
	predictionHits   atomic.Int64 // high risk, then failed
	predictionMisses atomic.Int64 // high risk, then succeeded
	missedFailures   atomic.Int64 // low risk, then failed

	mu    sync.RWMutex
	usage map[string]UsageStats // key: provider/model
}

// UsageStats tracks actual spend for one provider/model.
type UsageStats struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model,omitempty"`
	Calls    int64   `json:"calls"`
	Failures int64   `json:"failures"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// NewStats creates counters starting at startedAt.
func NewStats(startedAt time.Time) *Stats {
	return &Stats{
		startedAt: startedAt,
		usage:     make(map[string]UsageStats),
	}
}

// RecordCheck records one MonitorBeforeCall result.
func (s *Stats) RecordCheck(snap *Snapshot) {
	s.checks.Add(1)
	switch {
	case !snap.Enabled:
		s.disabledChecks.Add(1)
	case snap.Degraded:
		s.degradedChecks.Add(1)
	}
	if snap.Alerts.HighRisk {
		s.highRiskChecks.Add(1)
	}
	if snap.Alerts.Any() {
		s.alertingChecks.Add(1)
	}
}

// RecordSuppressedAlert records a real-time alert dropped by the throttle.
func (s *Stats) RecordSuppressedAlert() { s.alertsSuppressed.Add(1) }

// RecordOutcome records one call result. predicted is nil when the call id
// had no pending prediction.
func (s *Stats) RecordOutcome(o CallOutcome, predicted *AlertSet) {
	s.outcomes.Add(1)
	if !o.Success {
		s.failures.Add(1)
	}
	if isRateLimitError(o.Error) {
		s.rateLimited.Add(1)
	}
	s.actualTokens.Add(int64(o.Tokens))

	switch {
	case predicted == nil:
		s.unmatched.Add(1)
	case predicted.HighRisk && !o.Success:
		s.predictionHits.Add(1)
	case predicted.HighRisk:
		s.predictionMisses.Add(1)
	case !o.Success:
		s.missedFailures.Add(1)
	}

	key := o.Provider + "/" + o.Model
	s.mu.Lock()
	u := s.usage[key]
	u.Provider, u.Model = o.Provider, o.Model
	u.Calls++
	if !o.Success {
		u.Failures++
	}
	u.Tokens += int64(o.Tokens)
	u.Cost += o.Cost
	s.usage[key] = u
	s.mu.Unlock()
}

// StartedAt returns when the counters were created.
func (s *Stats) StartedAt() time.Time { return s.startedAt }

// Usage returns per provider/model spend, sorted by cost descending.
func (s *Stats) Usage() []UsageStats {
	s.mu.RLock()
	out := make([]UsageStats, 0, len(s.usage))
	for _, u := range s.usage {
		out = append(out, u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Provider+out[i].Model < out[j].Provider+out[j].Model
	})
	return out
}

// FullStats returns all counters in a structured format for the /stats endpoint.
func (s *Stats) FullStats(now time.Time) StatsResponse {
	uptime := now.Sub(s.startedAt)
	hits := s.predictionHits.Load()
	misses := s.predictionMisses.Load()

	var precision float64
	if total := hits + misses; total > 0 {
		precision = float64(hits) / float64(total) * 100
	}

	usage := s.Usage()
	var cost float64
	for _, u := range usage {
		cost += u.Cost
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     s.startedAt.Format(time.RFC3339),
		Checks: CheckStats{
			Total:            s.checks.Load(),
			Degraded:         s.degradedChecks.Load(),
			Disabled:         s.disabledChecks.Load(),
			HighRisk:         s.highRiskChecks.Load(),
			Alerting:         s.alertingChecks.Load(),
			AlertsSuppressed: s.alertsSuppressed.Load(),
		},
		Outcomes: OutcomeStats{
			Total:       s.outcomes.Load(),
			Failed:      s.failures.Load(),
			RateLimited: s.rateLimited.Load(),
			Unmatched:   s.unmatched.Load(),
			Tokens:      s.actualTokens.Load(),
			Cost:        cost,
		},
		Calibration: CalibrationStats{
			Hits:           hits,
			Misses:         misses,
			MissedFailures: s.missedFailures.Load(),
			Precision:      precision,
		},
		Usage: usage,
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartedAt     string           `json:"started_at"`
	Checks        CheckStats       `json:"checks"`
	Outcomes      OutcomeStats     `json:"outcomes"`
	Calibration   CalibrationStats `json:"calibration"`
	Usage         []UsageStats     `json:"usage"`
}

// CheckStats holds pre-call check counts.
type CheckStats struct {
	Total            int64 `json:"total"`
	Degraded         int64 `json:"degraded"`
	Disabled         int64 `json:"disabled"`
	HighRisk         int64 `json:"high_risk"`
	Alerting         int64 `json:"alerting"`
	AlertsSuppressed int64 `json:"alerts_suppressed"`
}

// OutcomeStats holds recorded call result counts.
type OutcomeStats struct {
	Total       int64   `json:"total"`
	Failed      int64   `json:"failed"`
	RateLimited int64   `json:"rate_limited"`
	Unmatched   int64   `json:"unmatched"`
	Tokens      int64   `json:"tokens"`
	Cost        float64 `json:"cost"`
}

// CalibrationStats compares high-risk predictions with observed outcomes.
type CalibrationStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	MissedFailures int64   `json:"missed_failures"`
	Precision      float64 `json:"precision_percent"`
}

// FormatReport returns a plain-text summary for terminal display.
func (r StatsResponse) FormatReport() string {
	var sb strings.Builder
	sb.WriteString("Call risk report\n")
	sb.WriteString("================\n")
	fmt.Fprintf(&sb, "Uptime:       %s\n", r.Uptime)
	fmt.Fprintf(&sb, "Checks:       %d (%d high risk, %d degraded)\n", r.Checks.Total, r.Checks.HighRisk, r.Checks.Degraded)
	fmt.Fprintf(&sb, "Outcomes:     %d (%d failed, %d rate limited)\n", r.Outcomes.Total, r.Outcomes.Failed, r.Outcomes.RateLimited)
	fmt.Fprintf(&sb, "Actual spend: $%.4f over %d tokens\n", r.Outcomes.Cost, r.Outcomes.Tokens)
	if r.Calibration.Hits+r.Calibration.Misses > 0 {
		fmt.Fprintf(&sb, "Precision:    %.1f%% (%d hits, %d misses)\n", r.Calibration.Precision, r.Calibration.Hits, r.Calibration.Misses)
	}
	if len(r.Usage) > 0 {
		sb.WriteString("\nBy provider/model:\n")
		for _, u := range r.Usage {
			name := u.Provider
			if u.Model != "" {
				name += "/" + u.Model
			}
			fmt.Fprintf(&sb, "  %-32s %4d calls  %4d failed  $%.4f\n", name, u.Calls, u.Failures, u.Cost)
		}
	}
	return sb.String()
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
