// Package monitoring - session.go orchestrates pre-call checks.
//
// DESIGN: Session owns the configuration, the history window and every
// collaborator. One check runs:
//
//	history query → (metrics ∥ context) → risk → alerts → snapshot sink
//	→ alert log / notifier → counters
//
// Nothing inside MonitorBeforeCall or RecordCallResult is returned to the
// caller as an error. Collector panics are recovered and degrade the check to
// the neutral bundle; persistence failures are logged and skipped.
//
// Lifecycle: New (Initialized) → checks and outcomes (Active) → Close.
// Session methods are safe for concurrent use.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/compresr/callrisk/internal/config"
	"github.com/compresr/callrisk/internal/costcontrol"
	"github.com/compresr/callrisk/internal/history"
	"github.com/compresr/callrisk/internal/probes"
	"github.com/compresr/callrisk/internal/utils"
)

// ledgerTimeout bounds ledger warm-up, appends and pruning.
const ledgerTimeout = 5 * time.Second

// ErrSessionClosed is logged when a closed session is used.
var ErrSessionClosed = errors.New("monitoring session closed")

// Session is one monitoring session.
type Session struct {
	id    string
	cfg   *config.Config
	start time.Time
	now   func() time.Time

	store    *history.Store
	ledger   *history.Ledger
	ownsLdgr bool
	ledgerMu sync.RWMutex // Close holds it exclusively; appends share it

	metrics    *MetricsCollector
	contextCol *ContextCollector
	risk       *RiskEngine
	alerter    *AlertGenerator

	estimator TokenEstimator
	system    SystemProbe
	vcs       VCSProbe
	sink      SnapshotSink
	notifier  *Notifier

	alertLog *AlertLog
	stats    *Stats
	exporter *Exporter

	// Options that may explicitly set a nil collaborator.
	vcsSet, sinkSet, notifierSet bool

	mu           sync.Mutex
	pending      map[string]AlertSet
	pendingOrder []string

	closed atomic.Bool
}

// Option customizes a Session.
type Option func(*Session)

// WithEstimator replaces the token/cost estimator.
func WithEstimator(e TokenEstimator) Option {
	return func(s *Session) { s.estimator = e }
}

// WithSystemProbe replaces the memory/CPU/latency probe.
func WithSystemProbe(p SystemProbe) Option {
	return func(s *Session) { s.system = p }
}

// WithVCSProbe replaces the version-control probe. nil disables it.
func WithVCSProbe(p VCSProbe) Option {
	return func(s *Session) { s.vcs, s.vcsSet = p, true }
}

// WithSink replaces the snapshot sink. nil disables persistence.
func WithSink(sink SnapshotSink) Option {
	return func(s *Session) { s.sink, s.sinkSet = sink, true }
}

// WithAlertOutput sends real-time alerts to w instead of stderr.
func WithAlertOutput(w io.Writer) Option {
	return func(s *Session) {
		s.notifier, s.notifierSet = NewNotifier(w, config.DefaultAlertRate, config.DefaultAlertBurst), true
	}
}

// WithNotifier replaces the real-time notifier. nil disables it.
func WithNotifier(n *Notifier) Option {
	return func(s *Session) { s.notifier, s.notifierSet = n, true }
}

// WithLedger uses an already open ledger. The caller keeps ownership.
func WithLedger(l *history.Ledger) Option {
	return func(s *Session) { s.ledger = l }
}

// WithExporter shares a Prometheus exporter across sessions.
func WithExporter(e *Exporter) Option {
	return func(s *Session) { s.exporter = e }
}

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New validates cfg and creates a session. Invalid configuration is the only
// error New returns.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("monitoring session: %w", err)
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		now:      time.Now,
		risk:     NewRiskEngine(),
		alerter:  NewAlertGenerator(),
		alertLog: NewAlertLog(),
		pending:  make(map[string]AlertSet),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.now()

	s.wireDefaults()

	s.store = history.NewStore(cfg.Window())
	s.store.SetClock(s.now)
	s.stats = NewStats(s.start)
	if s.exporter == nil {
		s.exporter = NewExporter()
	}

	s.metrics = NewMetricsCollector(s.estimator, s.system, cfg.MonitoringWindow, cfg.ProbeTimeout, s.start)
	s.metrics.now = s.now
	s.contextCol = NewContextCollector(s.vcs, cfg.ProbeTimeout, config.DefaultRecentActions,
		config.DefaultErrorScanDepth, cfg.Thresholds.ConsecutiveFailures)
	s.contextCol.now = s.now

	s.warmFromLedger()

	log.Info().
		Str("session_id", s.id).
		Bool("enabled", cfg.IsEnabled()).
		Int("window_min", cfg.MonitoringWindow).
		Bool("ledger", s.ledger != nil).
		Msg("monitoring: session started")
	return s, nil
}

// wireDefaults creates the production collaborators not supplied by options.
func (s *Session) wireDefaults() {
	cfg := s.cfg
	if s.estimator == nil {
		s.estimator = costcontrol.NewEstimator()
	}
	if s.system == nil {
		s.system = probes.NewSystem(cfg.LatencyTarget)
	}
	if !s.vcsSet && cfg.VersionControlEnabled() {
		s.vcs = probes.NewGit(cfg.Workdir)
	}
	if !s.sinkSet && cfg.MonitoringDataPath != "" {
		sink, err := NewFileSink(cfg.MonitoringDataPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.MonitoringDataPath).Msg("monitoring: snapshot persistence disabled")
		} else {
			s.sink = sink
		}
	}
	if !s.notifierSet && cfg.EnableRealTimeAlerts {
		s.notifier = NewNotifier(os.Stderr, config.DefaultAlertRate, config.DefaultAlertBurst)
	}
	if s.ledger == nil && cfg.HistoryDBPath != "" {
		ledger, err := history.OpenLedger(cfg.HistoryDBPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.HistoryDBPath).Msg("monitoring: history ledger disabled")
		} else {
			s.ledger, s.ownsLdgr = ledger, true
		}
	}
}

// warmFromLedger loads outcomes still inside the window.
func (s *Session) warmFromLedger() {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	outcomes, err := s.ledger.Since(ctx, s.now().Add(-s.cfg.Window()))
	if err != nil {
		log.Warn().Err(err).Msg("monitoring: failed to warm history from ledger")
		return
	}
	for _, o := range outcomes {
		s.store.Record(o)
	}
	log.Debug().Int("outcomes", len(outcomes)).Msg("monitoring: history warmed from ledger")
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.start }

// Config returns the session configuration. Callers must not modify it.
func (s *Session) Config() *config.Config { return s.cfg }

// AlertLog returns the recent alert log.
func (s *Session) AlertLog() *AlertLog { return s.alertLog }

// Stats returns the session counters.
func (s *Session) Stats() *Stats { return s.stats }

// Exporter returns the Prometheus exporter.
func (s *Session) Exporter() *Exporter { return s.exporter }

// History returns outcomes inside the configured window, oldest first.
func (s *Session) History() []CallOutcome {
	return s.store.Query(s.cfg.MonitoringWindow)
}

// =============================================================================
// PRE-CALL CHECK
// =============================================================================

// MonitorBeforeCall assesses req. It always returns a snapshot.
func (s *Session) MonitorBeforeCall(ctx context.Context, req CallRequest) *Snapshot {
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	now := s.now()
	snap := &Snapshot{
		SessionID: s.id,
		CallID:    req.CallID,
		Provider:  req.Provider,
		Model:     req.Model,
		Timestamp: now,
		Enabled:   s.cfg.IsEnabled(),
	}

	switch {
	case !snap.Enabled:
		s.neutral(snap, now)
	case s.closed.Load():
		log.Warn().Err(ErrSessionClosed).Str("call_id", req.CallID).Msg("monitoring: check on closed session")
		s.neutral(snap, now)
		snap.Degraded = true
	default:
		s.assess(ctx, req, snap)
	}

	s.stats.RecordCheck(snap)
	s.exporter.ObserveCheck(snap)
	if !snap.Enabled {
		return snap
	}

	s.persist(ctx, snap)
	if !snap.Degraded {
		s.track(snap)
		s.raise(snap)
	}

	log.Debug().
		Str("call_id", utils.ShortID(snap.CallID)).
		Float64("overall_risk", snap.Risk.OverallRisk).
		Int("factors", len(snap.Risk.RiskFactors)).
		Bool("degraded", snap.Degraded).
		Msg("monitoring: pre-call check")
	return snap
}

// assess fills snap, degrading it to the neutral bundle on any panic.
func (s *Session) assess(ctx context.Context, req CallRequest, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("call_id", req.CallID).Msg("monitoring: check failed, returning neutral assessment")
			s.neutral(snap, snap.Timestamp)
			snap.Degraded = true
		}
	}()

	recent := s.store.Query(s.cfg.MonitoringWindow)
	s.exporter.SetHistorySize(len(recent))

	var (
		g  errgroup.Group
		m  PreCallMetrics
		hc HumanReadableContext
	)
	g.Go(recovered("metrics", func() { m = s.metrics.Collect(ctx, req, recent) }))
	g.Go(recovered("context", func() { hc = s.contextCol.Collect(ctx, req, recent) }))
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("call_id", req.CallID).Msg("monitoring: collector failed, returning neutral assessment")
		s.neutral(snap, snap.Timestamp)
		snap.Degraded = true
		return
	}

	t := s.cfg.Thresholds
	ra := s.risk.Assess(m, hc, t, sensitiveSubject(req))
	snap.Metrics = m
	snap.Context = hc
	snap.Risk = ra
	snap.Alerts = s.alerter.Generate(m, ra, t)
}

// recovered turns a panic in fn into an errgroup error.
func recovered(name string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s collector panicked: %v", name, r)
			}
		}()
		fn()
		return nil
	}
}

// neutral resets snap to the zero-risk bundle.
func (s *Session) neutral(snap *Snapshot, now time.Time) {
	snap.Metrics = EmptyMetrics()
	snap.Context = HumanReadableContext{RecentActions: []string{}, Time: timeContext(now)}
	snap.Risk = NeutralAssessment()
	snap.Alerts = NeutralAlerts()
}

func sensitiveSubject(req CallRequest) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{req.FilePath, req.Context} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (s *Session) persist(ctx context.Context, snap *Snapshot) {
	if s.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("call_id", snap.CallID).Msg("monitoring: snapshot sink panicked")
		}
	}()
	if err := s.sink.Write(ctx, snap); err != nil {
		log.Warn().Err(err).Str("call_id", snap.CallID).Msg("monitoring: failed to persist snapshot")
	}
}

// track remembers the prediction until its outcome arrives. The oldest
// pending prediction is dropped once the bound is reached.
func (s *Session) track(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[snap.CallID]; !ok {
		s.pendingOrder = append(s.pendingOrder, snap.CallID)
	}
	s.pending[snap.CallID] = snap.Alerts

	for len(s.pendingOrder) > config.MaxPendingPredictions {
		oldest := s.pendingOrder[0]
		s.pendingOrder = s.pendingOrder[1:]
		delete(s.pending, oldest)
	}
}

// resolve removes and returns the pending prediction for callID.
func (s *Session) resolve(callID string) *AlertSet {
	if callID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	predicted, ok := s.pending[callID]
	if !ok {
		return nil
	}
	delete(s.pending, callID)
	for i, id := range s.pendingOrder {
		if id == callID {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			break
		}
	}
	return &predicted
}

// Pending returns the number of predictions awaiting an outcome.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) raise(snap *Snapshot) {
	if !snap.Alerts.Any() {
		return
	}
	s.alertLog.Record(AlertLogEntry{
		Timestamp:   snap.Timestamp,
		SessionID:   snap.SessionID,
		CallID:      snap.CallID,
		Provider:    snap.Provider,
		Model:       snap.Model,
		OverallRisk: snap.Risk.OverallRisk,
		Messages:    snap.Alerts.Messages,
	})

	log.Warn().
		Str("call_id", utils.ShortID(snap.CallID)).
		Float64("overall_risk", snap.Risk.OverallRisk).
		Strs("alerts", snap.Alerts.Messages).
		Msg("monitoring: alert raised")

	if s.notifier != nil && snap.Alerts.Immediate() && !s.notifier.Notify(snap, snap.Timestamp) {
		s.stats.RecordSuppressedAlert()
	}
}

// =============================================================================
// FEEDBACK
// =============================================================================

// RecordCallResult records the outcome of a governed call. It is safe for
// call ids that were never checked. Negative cost and tokens are stored as 0.
func (s *Session) RecordCallResult(ctx context.Context, res CallResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("call_id", res.CallID).Msg("monitoring: failed to record call result")
		}
	}()

	o := CallOutcome{
		CallID:    res.CallID,
		Timestamp: s.now(),
		Success:   res.Success,
		Error:     res.Error,
		Provider:  res.Provider,
		Model:     res.Model,
		Cost:      max(0, res.Cost),
		Tokens:    max(0, res.Tokens),
	}
	s.store.Record(o)

	s.appendToLedger(ctx, o)

	predicted := s.resolve(o.CallID)
	s.stats.RecordOutcome(o, predicted)
	s.exporter.ObserveOutcome(o, predicted)

	log.Debug().
		Str("call_id", utils.ShortID(o.CallID)).
		Bool("success", o.Success).
		Str("provider", o.Provider).
		Bool("matched", predicted != nil).
		Msg("monitoring: call result recorded")
}

// appendToLedger persists o unless the session is closed. Holding ledgerMu
// keeps Close from closing the database mid-append.
func (s *Session) appendToLedger(ctx context.Context, o CallOutcome) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()
	if s.ledger == nil || s.closed.Load() {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()
	if err := s.ledger.Append(lctx, o); err != nil {
		log.Warn().Err(err).Str("call_id", o.CallID).Msg("monitoring: failed to append outcome to ledger")
	}
}

// Close prunes expired ledger rows and closes a ledger the session opened.
// Checks after Close return a degraded neutral snapshot.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		n, err := s.ledger.Prune(ctx, s.now().Add(-s.cfg.Window()))
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("prune ledger: %w", err))
		} else if n > 0 {
			log.Debug().Int64("rows", n).Msg("monitoring: pruned expired ledger rows")
		}
		if s.ownsLdgr {
			if err := s.ledger.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close ledger: %w", err))
			}
		}
	}

	resp := s.stats.FullStats(s.now())
	log.Info().
		Str("session_id", s.id).
		Int64("checks", resp.Checks.Total).
		Int64("outcomes", resp.Outcomes.Total).
		Msg("monitoring: session closed")
	return errors.Join(errs...)
}
