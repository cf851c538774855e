package monitoring

import (
	"fmt"

	"github.com/compresr/callrisk/internal/config"
)

// AlertGenerator projects metrics and risk onto the configured thresholds.
type AlertGenerator struct{}

// NewAlertGenerator creates an alert generator.
func NewAlertGenerator() *AlertGenerator {
	return &AlertGenerator{}
}

// Generate sets one flag per threshold and one message per raised flag, in
// the order high risk, rate limit, cost, performance.
func (g *AlertGenerator) Generate(m PreCallMetrics, ra RiskAssessment, t config.Thresholds) AlertSet {
	as := AlertSet{
		HighRisk:         ra.OverallRisk > t.HighRisk,
		RateLimitWarning: ra.RateLimitProbability > t.RateLimitProbability,
		CostAlert:        m.EstimatedCost > t.CostThreshold,
		PerformanceAlert: m.MemoryUsage > MemoryRiskMB || m.CPUUsage > CPURiskPercent,
		Messages:         []string{},
	}

	if as.HighRisk {
		as.Messages = append(as.Messages, fmt.Sprintf("High risk call: overall risk %.2f exceeds %.2f", ra.OverallRisk, t.HighRisk))
	}
	if as.RateLimitWarning {
		as.Messages = append(as.Messages, fmt.Sprintf("Rate limit likely: probability %.2f exceeds %.2f", ra.RateLimitProbability, t.RateLimitProbability))
	}
	if as.CostAlert {
		as.Messages = append(as.Messages, fmt.Sprintf("Cost alert: estimated $%.4f exceeds $%.4f", m.EstimatedCost, t.CostThreshold))
	}
	if as.PerformanceAlert {
		as.Messages = append(as.Messages, fmt.Sprintf("Performance alert: memory %.0fMB, CPU %.0f%%", m.MemoryUsage, m.CPUUsage))
	}
	return as
}

// NeutralAlerts is the empty alert set.
func NeutralAlerts() AlertSet {
	return AlertSet{Messages: []string{}}
}
