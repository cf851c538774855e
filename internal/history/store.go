// Package history - store.go holds the sliding window of recent call outcomes.
//
// DESIGN: Store is a bounded, time-windowed ledger. Entries older than the
// configured window are pruned lazily on every Record and Query. Record and
// prune happen under one lock so concurrent callers never lose an update.
package history

import (
	"sort"
	"sync"
	"time"
)

// CallOutcome records whether a governed call succeeded. Immutable once recorded.
type CallOutcome struct {
	CallID    string    `json:"call_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Cost      float64   `json:"cost"`
	Tokens    int       `json:"tokens"`
}

// Store is the in-memory sliding window of call outcomes.
type Store struct {
	mu      sync.Mutex
	window  time.Duration
	entries []CallOutcome
	now     func() time.Time
}

// NewStore creates a store that keeps outcomes for window.
func NewStore(window time.Duration) *Store {
	return &Store{
		window: window,
		now:    time.Now,
	}
}

// SetClock replaces the store's time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Window returns the configured retention window.
func (s *Store) Window() time.Duration { return s.window }

// Record appends an outcome and prunes expired entries.
func (s *Store) Record(outcome CallOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, outcome)
	s.pruneLocked(s.now())
}

// Query returns every entry no older than windowMinutes, oldest first.
// Expired entries (older than the store window) are pruned as a side effect.
func (s *Store) Query(windowMinutes int) []CallOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	limit := time.Duration(windowMinutes) * time.Minute
	result := make([]CallOutcome, 0, len(s.entries))
	for _, e := range s.entries {
		if now.Sub(e.Timestamp) <= limit {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// Len returns the number of entries currently held (including not-yet-pruned ones).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// pruneLocked drops entries older than the window. Caller holds s.mu.
func (s *Store) pruneLocked(now time.Time) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if now.Sub(e.Timestamp) <= s.window {
			kept = append(kept, e)
		}
	}
	// Zero the tail so pruned error strings can be collected.
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = CallOutcome{}
	}
	s.entries = kept
}
