// Package monitoring - alert_log.go tracks raised alerts in memory.
//
// DESIGN: Ring buffer of recent alert events for the /v1/alerts endpoint
// and the CLI. Only checks that raised at least one flag are recorded.
package monitoring

import (
	"sync"
	"time"

	"github.com/compresr/callrisk/internal/config"
)

// AlertLogEntry records the alerts raised by one check.
type AlertLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id,omitempty"`
	CallID      string    `json:"call_id"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	OverallRisk float64   `json:"overall_risk"`
	Messages    []string  `json:"messages"`
}

// AlertLog keeps a ring buffer of recent alert events.
type AlertLog struct {
	mu      sync.RWMutex
	entries []AlertLogEntry
	total   int
}

// NewAlertLog creates a new alert log.
func NewAlertLog() *AlertLog {
	return &AlertLog{
		entries: make([]AlertLogEntry, 0, config.MaxAlertLogEntries),
	}
}

// Record adds an alert event to the log.
func (l *AlertLog) Record(entry AlertLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if len(l.entries) >= config.MaxAlertLogEntries {
		// Shift: drop oldest
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
}

// Recent returns the most recent N entries (newest first).
func (l *AlertLog) Recent(n int) []AlertLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.entries) == 0 {
		return []AlertLogEntry{}
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}

	result := make([]AlertLogEntry, n)
	for i := 0; i < n; i++ {
		result[i] = l.entries[len(l.entries)-1-i]
	}
	return result
}

// Len returns the number of retained entries.
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Total returns the number of entries ever recorded, including evicted ones.
func (l *AlertLog) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
