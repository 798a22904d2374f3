// Package session provides the last-seen tracker feeding the abandonment sweep.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// trackerEntry holds the most recent snapshot seen for one session.
type trackerEntry struct {
	snapshot models.ProgressSnapshot
	lastSeen time.Time
	pending  *time.Timer // debounce timer for a coalesced write
}

// Tracker keeps a bounded in-memory registry of recently active sessions so
// the periodic sweep can reconcile visitors whose leave beacon never arrived.
// It is recovery-only state: resume never reads it, and losing it only delays
// an abandonment record until the visitor's next interaction.
type Tracker struct {
	mu       sync.Mutex
	entries  map[string]*trackerEntry
	debounce time.Duration
	maxSize  int
	now      func() time.Time
}

// TrackerOpts holds configuration options for the Tracker.
type TrackerOpts struct {
	Debounce time.Duration
	MaxSize  int
	Now      func() time.Time
}

// TrackerOption defines a configuration option for the Tracker.
type TrackerOption func(*TrackerOpts)

// WithDebounce overrides the write-coalescing interval.
func WithDebounce(d time.Duration) TrackerOption {
	return func(o *TrackerOpts) { o.Debounce = d }
}

// WithMaxSize bounds how many sessions the tracker retains.
func WithMaxSize(n int) TrackerOption {
	return func(o *TrackerOpts) { o.MaxSize = n }
}

// WithTrackerClock injects a clock, used by tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(o *TrackerOpts) { o.Now = now }
}

// DefaultTrackerSize bounds the registry; the oldest entry is evicted beyond it.
const DefaultTrackerSize = 10000

// NewTracker creates a Tracker with the default 2-second save debounce.
func NewTracker(opts ...TrackerOption) *Tracker {
	cfg := TrackerOpts{
		Debounce: models.SaveDebounce,
		MaxSize:  DefaultTrackerSize,
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating session Tracker", "debounce", cfg.Debounce, "max_size", cfg.MaxSize)
	return &Tracker{
		entries:  make(map[string]*trackerEntry),
		debounce: cfg.Debounce,
		maxSize:  cfg.MaxSize,
		now:      cfg.Now,
	}
}

// Touch records the latest snapshot for its session, coalescing rapid
// successive calls into one write per debounce interval. The last snapshot
// passed during the interval wins, matching the store's overwrite semantics.
func (t *Tracker) Touch(s models.ProgressSnapshot) {
	if s.SessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[s.SessionID]
	if !ok {
		t.evictOldestLocked()
		t.entries[s.SessionID] = &trackerEntry{snapshot: s, lastSeen: t.now()}
		slog.Debug("Tracker.Touch: session registered", "session_id", s.SessionID, "phase", s.LastPhase)
		return
	}

	// Coalesce: hold the newest snapshot, commit once the debounce expires.
	entry.snapshot = s
	if entry.pending == nil {
		sessionID := s.SessionID
		entry.pending = time.AfterFunc(t.debounce, func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if e, ok := t.entries[sessionID]; ok {
				e.lastSeen = t.now()
				e.pending = nil
			}
		})
	}
}

// TouchNow records the snapshot immediately, bypassing the debounce. Used for
// rate-window-bearing updates, which must never coalesce.
func (t *Tracker) TouchNow(s models.ProgressSnapshot) {
	if s.SessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[s.SessionID]
	if !ok {
		t.evictOldestLocked()
		t.entries[s.SessionID] = &trackerEntry{snapshot: s, lastSeen: t.now()}
		return
	}
	if entry.pending != nil {
		entry.pending.Stop()
		entry.pending = nil
	}
	entry.snapshot = s
	entry.lastSeen = t.now()
}

// Forget drops a session, invoked exactly once when the conversation reaches
// Done or after an explicit abandonment was reconciled.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[sessionID]; ok {
		if entry.pending != nil {
			entry.pending.Stop()
		}
		delete(t.entries, sessionID)
		slog.Debug("Tracker.Forget: session dropped", "session_id", sessionID)
	}
}

// Stale returns snapshots of sessions idle for at least the given duration
// and removes them from the registry. The sweep reconciles what it takes.
func (t *Tracker) Stale(idle time.Duration) []models.ProgressSnapshot {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []models.ProgressSnapshot
	for id, entry := range t.entries {
		if now.Sub(entry.lastSeen) >= idle {
			if entry.pending != nil {
				entry.pending.Stop()
			}
			stale = append(stale, entry.snapshot)
			delete(t.entries, id)
		}
	}
	if len(stale) > 0 {
		slog.Info("Tracker.Stale: sessions collected for sweep", "count", len(stale), "remaining", len(t.entries))
	}
	return stale
}

// Len reports how many sessions are currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// evictOldestLocked makes room for one more entry. Caller holds the lock.
func (t *Tracker) evictOldestLocked() {
	if len(t.entries) < t.maxSize {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, entry := range t.entries {
		if oldestID == "" || entry.lastSeen.Before(oldest) {
			oldestID = id
			oldest = entry.lastSeen
		}
	}
	if oldestID != "" {
		if e := t.entries[oldestID]; e.pending != nil {
			e.pending.Stop()
		}
		delete(t.entries, oldestID)
		slog.Warn("Tracker.evictOldest: capacity reached, dropping oldest session", "session_id", oldestID)
	}
}
