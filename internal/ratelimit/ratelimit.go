// Package ratelimit bounds how many free-text questions a visitor may ask.
//
// The window state travels inside the signed client payload, so the limiter
// itself is stateless: callers pass the visitor's current window in and
// persist the mutated copy back out.
package ratelimit

import (
	"log/slog"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// Opts holds configuration options for the limiter.
type Opts struct {
	Budget int
	Window time.Duration
	Now    func() time.Time
}

// Option defines a configuration option for the limiter.
type Option func(*Opts)

// WithBudget overrides the default question budget.
func WithBudget(n int) Option {
	return func(o *Opts) { o.Budget = n }
}

// WithWindow overrides the default rolling window length.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) { o.Window = d }
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Limiter enforces a max-N budget over a rolling window. The window starts on
// first use, not at a wall-clock boundary.
type Limiter struct {
	budget int
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter with the default budget of 3 questions per 24h.
func NewLimiter(opts ...Option) *Limiter {
	cfg := Opts{
		Budget: models.QuestionBudget,
		Window: models.RateWindow,
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Limiter{budget: cfg.Budget, window: cfg.Window, now: cfg.Now}
}

// roll resets the window when it has lapsed. ResetAt is computed once per
// window; requests inside the window never move it.
func (l *Limiter) roll(w *models.RateLimitWindow) {
	now := l.now()
	if now.After(w.ResetAt) {
		w.Count = 0
		w.ResetAt = now.Add(l.window)
		slog.Debug("Limiter.roll: window reset", "reset_at", w.ResetAt)
	}
}

// Check reports whether the visitor still has budget, rolling the window
// first. It does not consume.
func (l *Limiter) Check(w *models.RateLimitWindow) error {
	l.roll(w)
	if w.Count >= l.budget {
		slog.Warn("Limiter.Check: budget exhausted", "count", w.Count, "budget", l.budget, "reset_at", w.ResetAt)
		return models.ErrRateLimitExceeded
	}
	return nil
}

// Consume checks and then spends one unit of budget. The caller must persist
// the updated window back to the client immediately, not debounced, so the
// budget cannot be bypassed with concurrent duplicate submissions.
func (l *Limiter) Consume(w *models.RateLimitWindow) error {
	if err := l.Check(w); err != nil {
		return err
	}
	w.Count++
	slog.Debug("Limiter.Consume: budget spent", "count", w.Count, "budget", l.budget)
	return nil
}

// Remaining returns how much budget is left after rolling the window.
func (l *Limiter) Remaining(w *models.RateLimitWindow) int {
	l.roll(w)
	if w.Count >= l.budget {
		return 0
	}
	return l.budget - w.Count
}
