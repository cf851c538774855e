// Package monitoring - risk.go scores a pending call.
//
// DESIGN: Four independent categories, each an additive sum of rule weights:
//
//	rate:        frequency > 5 (+0.3), rate limit events (+0.4), provider load > 0.8 (+0.2)
//	cost:        cost > threshold (+0.5), tokens > threshold (+0.3)
//	performance: memory > 500MB (+0.3), cpu > 80% (+0.4), latency > 1000ms (+0.3)
//	security:    subject mentions password/secret (+0.5)
//
// Overall risk is the max of the categories. Sums are never renormalized or
// clamped; with the current weights the largest category total is 1.0.
package monitoring

import (
	"math"
	"strings"

	"github.com/compresr/callrisk/internal/config"
)

const (
	// MemoryRiskMB is the heap size above which performance risk rises.
	MemoryRiskMB = 500.0
	// CPURiskPercent is the CPU usage above which performance risk rises.
	CPURiskPercent = 80.0
	// LatencyRiskMs is the network latency above which performance risk rises.
	LatencyRiskMs = 1000.0

	highFrequencyPerMin = 5.0
	highProviderLoad    = 0.8
)

var sensitiveMarkers = []string{"password", "secret"}

// rule is one additive scoring condition.
type rule struct {
	weight         float64
	factor         string
	recommendation string
	fires          func(in riskInput) bool
}

type riskInput struct {
	m       PreCallMetrics
	t       config.Thresholds
	subject string
}

var (
	rateRules = []rule{
		{0.3, "High call frequency", "Space out calls or batch requests",
			func(in riskInput) bool { return in.m.RecentCallFrequency > highFrequencyPerMin }},
		{0.4, "Recent rate limit events", "Back off before retrying; honor Retry-After",
			func(in riskInput) bool { return in.m.RecentRateLimitEvents > 0 }},
		{0.2, "High provider load", "Consider a fallback provider or defer non-urgent work",
			func(in riskInput) bool { return in.m.ProviderLoad > highProviderLoad }},
	}
	costRules = []rule{
		{0.5, "High estimated cost", "Use a cheaper model or trim the prompt",
			func(in riskInput) bool { return in.m.EstimatedCost > in.t.CostThreshold }},
		{0.3, "High token count", "Reduce context size or summarize earlier messages",
			func(in riskInput) bool { return in.m.EstimatedTokens > in.t.TokenThreshold }},
	}
	performanceRules = []rule{
		{0.3, "High memory usage", "Free memory before issuing large requests",
			func(in riskInput) bool { return in.m.MemoryUsage > MemoryRiskMB }},
		{0.4, "High CPU usage", "Wait for CPU-bound work to finish",
			func(in riskInput) bool { return in.m.CPUUsage > CPURiskPercent }},
		{0.3, "High network latency", "Increase client timeouts or retry later",
			func(in riskInput) bool { return in.m.NetworkLatency > LatencyRiskMs }},
	}
	securityRules = []rule{
		{0.5, "Sensitive data detected", "Remove credentials and secrets from the request",
			func(in riskInput) bool { return containsSensitive(in.subject) }},
	}
)

// RiskEngine turns metrics and context into a RiskAssessment.
type RiskEngine struct{}

// NewRiskEngine creates a risk engine using ScoringPolicyV1.
func NewRiskEngine() *RiskEngine {
	return &RiskEngine{}
}

// Assess applies every rule in order. subject is the file or context path the
// call concerns; it feeds the sensitive-data heuristic. The context is
// carried for future policies and doesn't affect V1 scores.
func (e *RiskEngine) Assess(m PreCallMetrics, _ HumanReadableContext, t config.Thresholds, subject string) RiskAssessment {
	in := riskInput{m: m, t: t, subject: subject}
	ra := RiskAssessment{
		Policy:          ScoringPolicyV1,
		RiskFactors:     []string{},
		Recommendations: []string{},
	}

	ra.RateLimitProbability = apply(rateRules, in, &ra)
	ra.CostRisk = apply(costRules, in, &ra)
	ra.PerformanceRisk = apply(performanceRules, in, &ra)
	ra.SecurityRisk = apply(securityRules, in, &ra)

	ra.OverallRisk = math.Max(
		math.Max(ra.RateLimitProbability, ra.CostRisk),
		math.Max(ra.PerformanceRisk, ra.SecurityRisk),
	)
	return ra
}

func apply(rules []rule, in riskInput, ra *RiskAssessment) float64 {
	score := 0.0
	for _, r := range rules {
		if r.fires(in) {
			score += r.weight
			ra.RiskFactors = append(ra.RiskFactors, r.factor)
			ra.Recommendations = append(ra.Recommendations, r.recommendation)
		}
	}
	return score
}

func containsSensitive(subject string) bool {
	lower := strings.ToLower(subject)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// NeutralAssessment is the zero-risk assessment of a skipped or failed check.
func NeutralAssessment() RiskAssessment {
	return RiskAssessment{
		Policy:          ScoringPolicyV1,
		RiskFactors:     []string{},
		Recommendations: []string{},
	}
}
