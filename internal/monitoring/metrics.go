// Package monitoring - metrics.go derives pre-call metrics.
//
// DESIGN: MetricsCollector combines three sources into PreCallMetrics:
//   - estimator:    token/cost projection for the pending request
//   - history:      sliding-window aggregates (frequency, error rate, 429s)
//   - system probe: memory, CPU and network latency
//
// Probes and the estimator run concurrently, each bounded by the probe
// timeout. Any failure resolves to 0 so collection never blocks or fails
// the governed call.
package monitoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// providerLoadSaturation is the call frequency at which provider load reaches 1.0.
	providerLoadSaturation = 10.0
	// complexitySaturation is the message size (characters) at which complexity reaches 1.0.
	complexitySaturation = 2000.0
)

// rateLimitSignatures mark an error as a rate limit rejection.
var rateLimitSignatures = []string{"429", "rate limit", "rate_limit", "too many requests"}

// MetricsCollector derives PreCallMetrics for a pending request.
type MetricsCollector struct {
	estimator     TokenEstimator
	probe         SystemProbe
	windowMinutes int
	probeTimeout  time.Duration
	sessionStart  time.Time
	now           func() time.Time
}

// NewMetricsCollector creates a metrics collector.
func NewMetricsCollector(estimator TokenEstimator, probe SystemProbe, windowMinutes int, probeTimeout time.Duration, sessionStart time.Time) *MetricsCollector {
	return &MetricsCollector{
		estimator:     estimator,
		probe:         probe,
		windowMinutes: windowMinutes,
		probeTimeout:  probeTimeout,
		sessionStart:  sessionStart,
		now:           time.Now,
	}
}

// Collect computes metrics for req against history (entries within the window).
func (mc *MetricsCollector) Collect(ctx context.Context, req CallRequest, history []CallOutcome) PreCallMetrics {
	now := mc.now()
	m := PreCallMetrics{
		MessageComplexity: messageComplexity(req.Messages),
		RequestUrgency:    requestUrgency(req.Purpose, req.Context),
		SessionDuration:   Millis(now.Sub(mc.sessionStart).Milliseconds()),
	}
	mc.applyHistory(&m, history, now)

	var g errgroup.Group
	g.Go(func() error {
		est := mc.estimate(ctx, req)
		m.EstimatedTokens, m.EstimatedCost = est.Tokens, est.Cost
		return nil
	})
	g.Go(func() error {
		m.MemoryUsage = mc.runProbe(ctx, "memory", mc.memoryProbe())
		return nil
	})
	g.Go(func() error {
		m.CPUUsage = mc.runProbe(ctx, "cpu", mc.cpuProbe())
		return nil
	})
	g.Go(func() error {
		m.NetworkLatency = mc.runProbe(ctx, "network_latency", mc.latencyProbe())
		return nil
	})
	_ = g.Wait()

	return m
}

// applyHistory fills the sliding-window aggregates.
func (mc *MetricsCollector) applyHistory(m *PreCallMetrics, history []CallOutcome, now time.Time) {
	m.TimeSinceLastSuccess = Never

	if mc.windowMinutes > 0 {
		m.RecentCallFrequency = float64(len(history)) / (float64(mc.windowMinutes) / 60)
	}
	m.ProviderLoad = math.Min(1.0, m.RecentCallFrequency/providerLoadSaturation)

	if len(history) == 0 {
		return
	}

	var failures int
	var lastSuccess time.Time
	for _, o := range history {
		if !o.Success {
			failures++
		}
		if isRateLimitError(o.Error) {
			m.RecentRateLimitEvents++
		}
		if o.Success && o.Timestamp.After(lastSuccess) {
			lastSuccess = o.Timestamp
		}
	}
	m.RecentErrorRate = float64(failures) / float64(len(history))
	if !lastSuccess.IsZero() {
		m.TimeSinceLastSuccess = Millis(now.Sub(lastSuccess).Milliseconds())
	}

	// history is oldest first; count the failing tail.
	for i := len(history) - 1; i >= 0 && !history[i].Success; i-- {
		m.ConsecutiveFailures++
	}
}

func (mc *MetricsCollector) estimate(ctx context.Context, req CallRequest) (est Estimate) {
	if mc.estimator == nil {
		return Estimate{}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Str("model", req.Model).Msg("monitoring: estimator panicked, using zero estimate")
			est = Estimate{}
		}
	}()

	ctx, cancel := mc.withTimeout(ctx)
	defer cancel()

	e, err := mc.estimator.Estimate(ctx, req.Messages, req.Model, req.MaxTokens)
	if err != nil {
		log.Debug().Err(err).Str("model", req.Model).Msg("monitoring: estimation failed, using zero estimate")
		return Estimate{}
	}
	return e
}

type probeFunc func(ctx context.Context) (float64, error)

func (mc *MetricsCollector) memoryProbe() probeFunc {
	if mc.probe == nil {
		return nil
	}
	return mc.probe.MemoryUsageMB
}

func (mc *MetricsCollector) cpuProbe() probeFunc {
	if mc.probe == nil {
		return nil
	}
	return mc.probe.CPUUsagePercent
}

func (mc *MetricsCollector) latencyProbe() probeFunc {
	if mc.probe == nil {
		return nil
	}
	return mc.probe.NetworkLatencyMs
}

// runProbe calls fn under the probe timeout. Errors, panics, timeouts and
// non-finite readings all resolve to 0.
func (mc *MetricsCollector) runProbe(ctx context.Context, name string, fn probeFunc) (value float64) {
	if fn == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("probe", name).Interface("panic", r).Msg("monitoring: probe panicked, using default")
			value = 0
		}
	}()

	ctx, cancel := mc.withTimeout(ctx)
	defer cancel()

	type reading struct {
		v   float64
		err error
	}
	ch := make(chan reading, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reading{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- reading{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			log.Debug().Err(r.err).Str("probe", name).Msg("monitoring: probe unavailable, using default")
			return 0
		}
		if math.IsNaN(r.v) || math.IsInf(r.v, 0) || r.v < 0 {
			log.Debug().Float64("value", r.v).Str("probe", name).Msg("monitoring: probe returned invalid reading, using default")
			return 0
		}
		return r.v
	case <-ctx.Done():
		log.Debug().Err(ctx.Err()).Str("probe", name).Msg("monitoring: probe timed out, using default")
		return 0
	}
}

func (mc *MetricsCollector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if mc.probeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, mc.probeTimeout)
}

// =============================================================================
// PURE METRIC FUNCTIONS
// =============================================================================

func messageComplexity(messages []Message) float64 {
	total := 0
	for _, m := range messages {
		total += len([]rune(m.Content))
	}
	return math.Min(1.0, float64(total)/complexitySaturation)
}

func requestUrgency(purpose, callContext string) float64 {
	p := strings.ToLower(purpose)
	c := strings.ToLower(strings.TrimSpace(callContext))

	urgency := 0.5
	if strings.Contains(p, "urgent") || strings.Contains(p, "critical") {
		urgency += 0.3
	}
	if c == "production" || c == "live" {
		urgency += 0.2
	}
	if strings.Contains(p, "real-time") || strings.Contains(p, "immediate") {
		urgency += 0.2
	}
	return math.Min(1.0, urgency)
}

func isRateLimitError(errMsg string) bool {
	if errMsg == "" {
		return false
	}
	lower := strings.ToLower(errMsg)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
