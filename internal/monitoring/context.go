package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/callrisk/internal/utils"
)

// keywordLabel maps any of its keywords to a human-readable label.
type keywordLabel struct {
	keywords []string
	label    string
}

// intentRules are matched against the request purpose, first match wins.
var intentRules = []keywordLabel{
	{[]string{"analysis", "analyze", "analyse"}, "Analyzing data or code"},
	{[]string{"generat"}, "Generating content"},
	{[]string{"review"}, "Reviewing code or content"},
	{[]string{"debug", "fix"}, "Debugging an issue"},
	{[]string{"document", "docs"}, "Writing documentation"},
	{[]string{"test"}, "Testing functionality"},
	{[]string{"summar"}, "Summarizing information"},
	{[]string{"translat"}, "Translating content"},
}

const defaultIntent = "General assistance"

// workflowRules are matched against the request context, first match wins.
var workflowRules = []keywordLabel{
	{[]string{"production", "live"}, "Production workflow"},
	{[]string{"ci", "pipeline"}, "CI/CD pipeline"},
	{[]string{"develop", "dev"}, "Development workflow"},
	{[]string{"test", "staging"}, "Testing workflow"},
}

const defaultWorkflow = "Interactive session"

// errorPatternRules are matched against recent error messages.
var errorPatternRules = []keywordLabel{
	{[]string{"429", "rate limit", "too many requests"}, "Rate limiting pattern detected"},
	{[]string{"401", "unauthorized"}, "Authentication failure pattern detected"},
	{[]string{"timeout", "deadline"}, "Timeout pattern detected"},
}

// ContextCollector gathers situational context for a pending call.
type ContextCollector struct {
	vcs                 VCSProbe
	probeTimeout        time.Duration
	recentActions       int
	errorScanDepth      int
	consecutiveFailures int
	now                 func() time.Time
}

// NewContextCollector creates a context collector. vcs may be nil.
func NewContextCollector(vcs VCSProbe, probeTimeout time.Duration, recentActions, errorScanDepth, consecutiveFailures int) *ContextCollector {
	return &ContextCollector{
		vcs:                 vcs,
		probeTimeout:        probeTimeout,
		recentActions:       recentActions,
		errorScanDepth:      errorScanDepth,
		consecutiveFailures: consecutiveFailures,
		now:                 time.Now,
	}
}

// Collect builds the human-readable context. history is oldest first.
func (cc *ContextCollector) Collect(ctx context.Context, req CallRequest, history []CallOutcome) HumanReadableContext {
	now := cc.now()
	return HumanReadableContext{
		Intent:         matchLabel(intentRules, req.Purpose, defaultIntent),
		Workflow:       matchWorkflow(req.Context),
		RecentActions:  recentActions(history, cc.recentActions, now),
		VersionControl: cc.versionControl(ctx),
		Time:           timeContext(now),
		ErrorPatterns:  errorPatterns(history, cc.errorScanDepth, cc.consecutiveFailures),
	}
}

// versionControl queries the VCS probe concurrently. Returns nil when no
// repository is present or every query fails.
func (cc *ContextCollector) versionControl(ctx context.Context) *VersionControlState {
	if cc.vcs == nil {
		return nil
	}
	if cc.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.probeTimeout)
		defer cancel()
	}

	type vcsReading struct {
		name   string
		branch string
		status *VCSStatus
		commit string
		ok     bool
	}
	// Buffered: a probe finishing after the timeout never blocks.
	ch := make(chan vcsReading, 3)
	query := func(name string, fn func(r *vcsReading) error) {
		r := vcsReading{name: name}
		defer func() {
			if p := recover(); p != nil {
				log.Debug().Str("probe", name).Interface("panic", p).Msg("monitoring: vcs probe panicked")
				r.ok = false
			}
			ch <- r
		}()
		if err := fn(&r); err != nil {
			log.Debug().Err(err).Str("probe", name).Msg("monitoring: vcs probe unavailable")
			return
		}
		r.ok = true
	}

	go query("branch", func(r *vcsReading) (err error) { r.branch, err = cc.vcs.CurrentBranch(ctx); return err })
	go query("status", func(r *vcsReading) (err error) { r.status, err = cc.vcs.Status(ctx); return err })
	go query("last_commit", func(r *vcsReading) (err error) { r.commit, err = cc.vcs.LastCommitSummary(ctx); return err })

	var state *VersionControlState
	for received := 0; received < 3; received++ {
		var r vcsReading
		select {
		case r = <-ch:
		case <-ctx.Done():
			log.Debug().Err(ctx.Err()).Msg("monitoring: vcs probe timed out")
			return state
		}
		if !r.ok {
			continue
		}
		if state == nil {
			state = &VersionControlState{}
		}
		switch r.name {
		case "branch":
			state.Branch = r.branch
		case "status":
			if r.status != nil {
				state.Dirty = r.status.Dirty
				state.UncommittedCount = r.status.UncommittedCount
			}
		case "last_commit":
			state.LastCommit = r.commit
		}
	}
	return state
}

// =============================================================================
// PURE CONTEXT FUNCTIONS
// =============================================================================

func matchLabel(rules []keywordLabel, text, fallback string) string {
	lower := strings.ToLower(text)
	if lower == "" {
		return fallback
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.label
			}
		}
	}
	return fallback
}

// matchWorkflow matches whole words so "ci" doesn't hit "decision".
func matchWorkflow(callContext string) string {
	words := strings.FieldsFunc(strings.ToLower(callContext), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, r := range workflowRules {
		for _, kw := range r.keywords {
			for _, w := range words {
				if w == kw || (len(kw) > 3 && strings.HasPrefix(w, kw)) {
					return r.label
				}
			}
		}
	}
	return defaultWorkflow
}

func recentActions(history []CallOutcome, n int, now time.Time) []string {
	actions := make([]string, 0, n)
	for i := len(history) - 1; i >= 0 && len(actions) < n; i-- {
		o := history[i]
		provider := o.Provider
		if provider == "" {
			provider = "unknown"
		}
		age := now.Sub(o.Timestamp).Round(time.Second)
		if o.Success {
			actions = append(actions, fmt.Sprintf("%s call succeeded %s ago", provider, age))
		} else {
			actions = append(actions, fmt.Sprintf("%s call failed (%s) %s ago", provider, utils.Truncate(o.Error, 80), age))
		}
	}
	return actions
}

func timeContext(now time.Time) TimeContext {
	weekday := now.Weekday()
	weekend := weekday == time.Saturday || weekday == time.Sunday
	hour := now.Hour()
	zone, _ := now.Zone()
	return TimeContext{
		Timestamp:       now,
		Hour:            hour,
		Weekday:         weekday.String(),
		IsBusinessHours: !weekend && hour >= 9 && hour < 18,
		IsWeekend:       weekend,
		Timezone:        zone,
	}
}

func errorPatterns(history []CallOutcome, depth, consecutiveThreshold int) *ErrorPatternContext {
	var recent []string
	for i := len(history) - 1; i >= 0 && len(recent) < depth; i-- {
		if !history[i].Success && history[i].Error != "" {
			recent = append(recent, history[i].Error)
		}
	}

	consecutive := 0
	for i := len(history) - 1; i >= 0 && !history[i].Success; i-- {
		consecutive++
	}

	if len(recent) == 0 && consecutive == 0 {
		return nil
	}

	patterns := []string{}
	for _, rule := range errorPatternRules {
	match:
		for _, e := range recent {
			lower := strings.ToLower(e)
			for _, kw := range rule.keywords {
				if strings.Contains(lower, kw) {
					patterns = append(patterns, rule.label)
					break match
				}
			}
		}
	}
	if consecutiveThreshold > 0 && consecutive >= consecutiveThreshold {
		patterns = append(patterns, fmt.Sprintf("%d consecutive failures", consecutive))
	}

	if recent == nil {
		recent = []string{}
	}
	return &ErrorPatternContext{RecentErrors: recent, Patterns: patterns}
}
