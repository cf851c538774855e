package monitoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/callrisk/internal/config"
	"github.com/compresr/callrisk/internal/costcontrol"
	"github.com/compresr/callrisk/internal/history"
)

func helloRequest() CallRequest {
	return CallRequest{
		Provider: "openai",
		Model:    "gpt-3.5-turbo",
		Messages: []Message{{Role: "user", Content: "Hello"}},
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MonitoringWindow = 0

	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSession_ScenarioA_EmptyHistory(t *testing.T) {
	s, err := New(testConfig(),
		WithClock(newFakeClock().Now),
		WithEstimator(costcontrol.NewHeuristicEstimator()),
		WithSystemProbe(&fakeSystem{mem: 20, cpu: 1, latency: 15}),
		WithVCSProbe(nil),
		WithSink(nil),
		WithNotifier(nil),
	)
	require.NoError(t, err)

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())

	assert.False(t, snap.Degraded)
	assert.Equal(t, 0.0, snap.Metrics.RecentCallFrequency)
	assert.Equal(t, 0.0, snap.Metrics.RecentErrorRate)
	assert.Greater(t, snap.Metrics.EstimatedTokens, 0)
	assert.Less(t, snap.Metrics.EstimatedCost, 0.001)
	assert.Equal(t, 0.0, snap.Risk.RateLimitProbability)
	assert.Equal(t, 0.0, snap.Risk.OverallRisk)
	assert.Empty(t, snap.Risk.RiskFactors)
	assert.False(t, snap.Alerts.Any())
	assert.NotEmpty(t, snap.CallID)
	assert.Equal(t, s.ID(), snap.SessionID)
}

func TestSession_ScenarioB_HighFrequency(t *testing.T) {
	clock := newFakeClock()
	s, err := newTestSession(testConfig(), clock, &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		s.RecordCallResult(ctx, CallResult{CallID: fmt.Sprintf("b-%d", i), Success: true, Provider: "openai"})
		clock.Advance(5 * time.Second)
	}

	snap := s.MonitorBeforeCall(ctx, helloRequest())

	assert.InDelta(t, 6.0, snap.Metrics.RecentCallFrequency, 1e-9)
	assert.GreaterOrEqual(t, snap.Risk.RateLimitProbability, 0.3)
	assert.Contains(t, snap.Risk.RiskFactors, "High call frequency")
}

func TestSession_ScenarioC_RateLimitEvent(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		warning   bool
	}{
		{"default threshold", config.DefaultRateLimitThreshold, false},
		{"lowered threshold", 0.3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Thresholds.RateLimitProbability = tt.threshold
			clock := newFakeClock()
			s, err := newTestSession(cfg, clock, &fakeEstimator{}, &fakeSystem{})
			require.NoError(t, err)

			ctx := context.Background()
			s.RecordCallResult(ctx, CallResult{CallID: "c-1", Error: "429 Too Many Requests", Provider: "openai"})
			clock.Advance(time.Minute)

			snap := s.MonitorBeforeCall(ctx, helloRequest())

			assert.Equal(t, 1, snap.Metrics.RecentRateLimitEvents)
			assert.GreaterOrEqual(t, snap.Risk.RateLimitProbability, 0.4)
			assert.Equal(t, tt.warning, snap.Alerts.RateLimitWarning)
			require.NotNil(t, snap.Context.ErrorPatterns)
			assert.Contains(t, snap.Context.ErrorPatterns.Patterns, "Rate limiting pattern detected")
		})
	}
}

func TestSession_ScenarioD_HighCost(t *testing.T) {
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{est: Estimate{Tokens: 1200, Cost: 0.20}}, &fakeSystem{})
	require.NoError(t, err)

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())

	assert.GreaterOrEqual(t, snap.Risk.CostRisk, 0.5)
	assert.True(t, snap.Alerts.CostAlert)
	assert.Contains(t, snap.Risk.RiskFactors, "High estimated cost")
}

func TestSession_DisabledReturnsNeutral(t *testing.T) {
	cfg := testConfig()
	disabled := false
	cfg.Enabled = &disabled
	sink := &memorySink{}
	s, err := newTestSession(cfg, newFakeClock(), &fakeEstimator{est: Estimate{Cost: 5}}, &fakeSystem{cpu: 99}, WithSink(sink))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		s.RecordCallResult(ctx, CallResult{Error: "429 Too Many Requests"})
	}

	snap := s.MonitorBeforeCall(ctx, CallRequest{FilePath: "secrets.env"})

	assert.False(t, snap.Enabled)
	assert.False(t, snap.Degraded)
	assert.Equal(t, 0.0, snap.Risk.OverallRisk)
	assert.Empty(t, snap.Risk.RiskFactors)
	assert.False(t, snap.Alerts.Any())
	assert.Empty(t, snap.Alerts.Messages)
	assert.True(t, snap.Metrics.TimeSinceLastSuccess.IsNever())
	assert.Equal(t, 0, sink.Len())
}

func TestSession_Idempotent(t *testing.T) {
	clock := newFakeClock()
	s, err := newTestSession(testConfig(), clock,
		&fakeEstimator{est: Estimate{Tokens: 5000, Cost: 0.03}},
		&fakeSystem{mem: 120, cpu: 85, latency: 40},
		WithVCSProbe(&fakeVCS{branch: "main", status: &VCSStatus{}, commit: "abc init"}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	s.RecordCallResult(ctx, CallResult{Success: false, Error: "timeout", Provider: "openai"})
	clock.Advance(time.Minute)

	req := helloRequest()
	req.CallID = "same"
	first := s.MonitorBeforeCall(ctx, req)
	second := s.MonitorBeforeCall(ctx, req)

	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.Context, second.Context)
	assert.Equal(t, first.Risk, second.Risk)
	assert.Equal(t, first.Alerts, second.Alerts)
}

// panicClock panics on one specific call.
type panicClock struct {
	calls   atomic.Int32
	panicAt int32
}

func (c *panicClock) Now() time.Time {
	if c.calls.Add(1) == c.panicAt {
		panic("clock exploded")
	}
	return fixedNow
}

func TestSession_PanicDegradesToNeutral(t *testing.T) {
	// Call 1 is the session start, call 2 the check timestamp, call 3 the
	// history query inside the assessment.
	clock := &panicClock{panicAt: 3}
	s, err := New(testConfig(),
		WithClock(clock.Now),
		WithEstimator(&fakeEstimator{est: Estimate{Cost: 9}}),
		WithSystemProbe(&fakeSystem{}),
		WithVCSProbe(nil),
		WithSink(nil),
		WithNotifier(nil),
	)
	require.NoError(t, err)

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())
	require.NotNil(t, snap)
	assert.True(t, snap.Degraded)
	assert.Equal(t, 0.0, snap.Risk.OverallRisk)
	assert.False(t, snap.Alerts.Any())
	assert.Equal(t, int64(1), s.Stats().FullStats(fixedNow).Checks.Degraded)

	// The session keeps working after a failed check.
	snap = s.MonitorBeforeCall(context.Background(), helloRequest())
	assert.False(t, snap.Degraded)
	assert.True(t, snap.Alerts.CostAlert)
}

func TestRecovered(t *testing.T) {
	err := recovered("metrics", func() { panic("boom") })()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics collector panicked: boom")

	assert.NoError(t, recovered("context", func() {})())
}

func TestSession_RecordCallResult(t *testing.T) {
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{est: Estimate{Tokens: 9000, Cost: 1}}, &fakeSystem{})
	require.NoError(t, err)
	ctx := context.Background()

	req := helloRequest()
	req.CallID = "risky"
	snap := s.MonitorBeforeCall(ctx, req)
	require.True(t, snap.Alerts.HighRisk)
	assert.Equal(t, 1, s.Pending())

	s.RecordCallResult(ctx, CallResult{CallID: "risky", Success: false, Error: "500", Provider: "openai", Cost: -3, Tokens: -10})
	s.RecordCallResult(ctx, CallResult{CallID: "never-checked", Success: true, Provider: "openai"})
	s.RecordCallResult(ctx, CallResult{})

	assert.Equal(t, 0, s.Pending())
	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, 0.0, history[0].Cost)
	assert.Equal(t, 0, history[0].Tokens)

	stats := s.Stats().FullStats(fixedNow)
	assert.Equal(t, int64(1), stats.Calibration.Hits)
	assert.Equal(t, int64(2), stats.Outcomes.Unmatched)
}

func TestSession_PendingIsBounded(t *testing.T) {
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)

	for i := 0; i < config.MaxPendingPredictions+10; i++ {
		req := helloRequest()
		req.CallID = fmt.Sprintf("call-%d", i)
		s.MonitorBeforeCall(context.Background(), req)
	}
	assert.Equal(t, config.MaxPendingPredictions, s.Pending())
}

func TestSession_AlertsAreLoggedAndNotified(t *testing.T) {
	var out bytes.Buffer
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{est: Estimate{Cost: 0.5}}, &fakeSystem{}, WithAlertOutput(&out))
	require.NoError(t, err)

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())
	require.True(t, snap.Alerts.CostAlert)

	entries := s.AlertLog().Recent(10)
	require.Len(t, entries, 1)
	assert.Equal(t, snap.CallID, entries[0].CallID)
	assert.Equal(t, snap.Alerts.Messages, entries[0].Messages)
	assert.Empty(t, out.String(), "cost alerts are not printed")
	assert.Equal(t, int64(0), s.Stats().FullStats(fixedNow).Checks.AlertsSuppressed)
}

func TestSession_HighRiskIsNotified(t *testing.T) {
	var out bytes.Buffer
	est := &fakeEstimator{est: Estimate{Tokens: 9000, Cost: 0.5}}
	s, err := newTestSession(testConfig(), newFakeClock(), est, &fakeSystem{}, WithAlertOutput(&out))
	require.NoError(t, err)

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())
	require.True(t, snap.Alerts.HighRisk)
	require.True(t, snap.Alerts.CostAlert)

	assert.Contains(t, out.String(), "High risk call")
	assert.NotContains(t, out.String(), "Cost alert")
	assert.Len(t, s.AlertLog().Recent(10), 1)
}

func TestSession_SnapshotPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.MonitoringDataPath = dir
	s, err := New(cfg,
		WithClock(newFakeClock().Now),
		WithEstimator(&fakeEstimator{}),
		WithSystemProbe(&fakeSystem{}),
		WithVCSProbe(nil),
		WithNotifier(nil),
	)
	require.NoError(t, err)

	req := helloRequest()
	req.CallID = "persisted"
	s.MonitorBeforeCall(context.Background(), req)

	matches, err := filepath.Glob(filepath.Join(dir, s.ID(), "*-persisted.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSession_SinkFailureIsNotFatal(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{}, &fakeSystem{}, WithSink(sink))
	require.NoError(t, err)

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())
	assert.NotNil(t, snap)
	assert.False(t, snap.Degraded)
}

func TestSession_LedgerSharesHistoryAcrossSessions(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryDBPath = filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := newTestSession(cfg, newFakeClock(), &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)
	first.RecordCallResult(ctx, CallResult{CallID: "x", Error: "429 Too Many Requests", Provider: "openai"})
	require.NoError(t, first.Close())

	clock := newFakeClock()
	clock.Advance(time.Minute)
	second, err := newTestSession(cfg, clock, &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	require.Len(t, second.History(), 1)
	snap := second.MonitorBeforeCall(ctx, helloRequest())
	assert.Equal(t, 1, snap.Metrics.RecentRateLimitEvents)
}

func TestSession_NoLedgerAppendsAfterClose(t *testing.T) {
	ledger, err := history.OpenLedger(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = ledger.Close() }()
	ctx := context.Background()

	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{}, &fakeSystem{}, WithLedger(ledger))
	require.NoError(t, err)
	s.RecordCallResult(ctx, CallResult{CallID: "before", Success: true, Provider: "openai"})
	require.NoError(t, s.Close())
	s.RecordCallResult(ctx, CallResult{CallID: "after", Success: true, Provider: "openai"})

	rows, err := ledger.Since(ctx, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "before", rows[0].CallID)
	assert.Len(t, s.History(), 2)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSession_CloseDuringRecordNeverHitsClosedLedger(t *testing.T) {
	var logs lockedBuffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	defer func() { log.Logger = prev }()

	cfg := testConfig()
	cfg.HistoryDBPath = filepath.Join(t.TempDir(), "history.db")
	s, err := newTestSession(cfg, newFakeClock(), &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.RecordCallResult(ctx, CallResult{CallID: fmt.Sprintf("c-%d-%d", i, j), Success: true, Provider: "openai"})
			}
		}(i)
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Close())
	wg.Wait()

	assert.NotContains(t, logs.String(), "failed to append outcome to ledger")
	assert.Len(t, s.History(), 200)
}

func TestSession_ClosedSessionDegrades(t *testing.T) {
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	snap := s.MonitorBeforeCall(context.Background(), helloRequest())
	assert.True(t, snap.Degraded)
	assert.Equal(t, 0.0, snap.Risk.OverallRisk)
}

func TestSession_Concurrent(t *testing.T) {
	s, err := newTestSession(testConfig(), newFakeClock(), &fakeEstimator{}, &fakeSystem{})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", i)
			req := helloRequest()
			req.CallID = id
			s.MonitorBeforeCall(ctx, req)
			s.RecordCallResult(ctx, CallResult{CallID: id, Success: i%2 == 0, Provider: "openai"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.History(), 20)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, int64(20), s.Stats().FullStats(fixedNow).Checks.Total)
}
