package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/compresr/callrisk/internal/config"
)

// fixedNow is a Tuesday inside business hours.
var fixedNow = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: fixedNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEstimator struct {
	est   Estimate
	err   error
	panic bool
}

func (f *fakeEstimator) Estimate(_ context.Context, _ []Message, _ string, _ int) (Estimate, error) {
	if f.panic {
		panic("estimator exploded")
	}
	return f.est, f.err
}

type fakeSystem struct {
	mem, cpu, latency float64
	err               error
	block             bool
	panicCPU          bool
}

func (f *fakeSystem) MemoryUsageMB(ctx context.Context) (float64, error) {
	return f.read(ctx, f.mem)
}

func (f *fakeSystem) CPUUsagePercent(ctx context.Context) (float64, error) {
	if f.panicCPU {
		panic("cpu probe exploded")
	}
	return f.read(ctx, f.cpu)
}

func (f *fakeSystem) NetworkLatencyMs(ctx context.Context) (float64, error) {
	return f.read(ctx, f.latency)
}

func (f *fakeSystem) read(ctx context.Context, v float64) (float64, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return v, f.err
}

type fakeVCS struct {
	branch string
	status *VCSStatus
	commit string
	err    error
	hang   chan struct{} // Status waits on it and ignores ctx
}

func (f *fakeVCS) CurrentBranch(context.Context) (string, error) { return f.branch, f.err }

func (f *fakeVCS) Status(context.Context) (*VCSStatus, error) {
	if f.hang != nil {
		<-f.hang
	}
	return f.status, f.err
}

func (f *fakeVCS) LastCommitSummary(context.Context) (string, error) { return f.commit, f.err }

type memorySink struct {
	mu        sync.Mutex
	snapshots []*Snapshot
	err       error
}

func (s *memorySink) Write(_ context.Context, snap *Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

var errProbe = errors.New("probe unavailable")

// testConfig returns defaults with persistence and real-time alerts off.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MonitoringDataPath = ""
	cfg.EnableRealTimeAlerts = false
	cfg.ProbeTimeout = 200 * time.Millisecond
	return cfg
}

// newTestSession wires fakes for every collaborator.
func newTestSession(cfg *config.Config, clock *fakeClock, est *fakeEstimator, sys *fakeSystem, opts ...Option) (*Session, error) {
	base := []Option{
		WithClock(clock.Now),
		WithEstimator(est),
		WithSystemProbe(sys),
		WithVCSProbe(nil),
		WithSink(nil),
		WithNotifier(nil),
	}
	return New(cfg, append(base, opts...)...)
}
