package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

func TestConsumeExactBudget(t *testing.T) {
	now := time.Now()
	l := NewLimiter(WithClock(func() time.Time { return now }))

	var w models.RateLimitWindow
	for i := 0; i < models.QuestionBudget; i++ {
		if err := l.Consume(&w); err != nil {
			t.Fatalf("submission %d unexpectedly limited: %v", i+1, err)
		}
	}
	err := l.Consume(&w)
	if !errors.Is(err, models.ErrRateLimitExceeded) {
		t.Fatalf("4th submission should be limited, got %v", err)
	}
}

func TestWindowResetsAfterHorizon(t *testing.T) {
	now := time.Now()
	clock := &now
	l := NewLimiter(WithClock(func() time.Time { return *clock }))

	var w models.RateLimitWindow
	for i := 0; i < models.QuestionBudget; i++ {
		if err := l.Consume(&w); err != nil {
			t.Fatalf("unexpected limit: %v", err)
		}
	}
	firstReset := w.ResetAt

	// Still inside the window: denied and ResetAt untouched.
	later := now.Add(23 * time.Hour)
	clock = &later
	if err := l.Consume(&w); !errors.Is(err, models.ErrRateLimitExceeded) {
		t.Fatalf("expected limit inside window, got %v", err)
	}
	if !w.ResetAt.Equal(firstReset) {
		t.Error("ResetAt must not move on requests inside the window")
	}

	// Past the window: allowed again, fresh count of 1.
	after := firstReset.Add(time.Second)
	clock = &after
	if err := l.Consume(&w); err != nil {
		t.Fatalf("post-reset submission should succeed: %v", err)
	}
	if w.Count != 1 {
		t.Errorf("count after reset = %d, want 1", w.Count)
	}
	if !w.ResetAt.After(firstReset) {
		t.Error("new window should extend past the old one")
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	l := NewLimiter()
	var w models.RateLimitWindow
	for i := 0; i < 10; i++ {
		if err := l.Check(&w); err != nil {
			t.Fatalf("Check should never consume budget: %v", err)
		}
	}
	if w.Count != 0 {
		t.Errorf("count = %d after Check-only calls, want 0", w.Count)
	}
}

func TestRemaining(t *testing.T) {
	l := NewLimiter()
	var w models.RateLimitWindow
	if got := l.Remaining(&w); got != models.QuestionBudget {
		t.Errorf("fresh window remaining = %d, want %d", got, models.QuestionBudget)
	}
	_ = l.Consume(&w)
	if got := l.Remaining(&w); got != models.QuestionBudget-1 {
		t.Errorf("remaining after one = %d, want %d", got, models.QuestionBudget-1)
	}
}

func TestCustomBudget(t *testing.T) {
	l := NewLimiter(WithBudget(1), WithWindow(time.Hour))
	var w models.RateLimitWindow
	if err := l.Consume(&w); err != nil {
		t.Fatalf("first consume should pass: %v", err)
	}
	if err := l.Consume(&w); !errors.Is(err, models.ErrRateLimitExceeded) {
		t.Fatalf("second consume should be limited, got %v", err)
	}
}
