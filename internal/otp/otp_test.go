package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// captureSender records delivered codes for assertions.
type captureSender struct {
	channel models.Channel
	to      string
	code    string
	calls   int
	err     error
}

func (s *captureSender) Deliver(ctx context.Context, channel models.Channel, to, code string) error {
	s.channel = channel
	s.to = to
	s.code = code
	s.calls++
	return s.err
}

func TestIssueAndVerify(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(WithSender(sender))

	if err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected one delivery, got %d", sender.calls)
	}
	if len(sender.code) != CodeLength {
		t.Fatalf("delivered code %q has wrong length", sender.code)
	}

	if err := m.Verify(models.ChannelEmail, "jane@x.com", sender.code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestVerifyNoCodeFound(t *testing.T) {
	m := NewManager(WithSender(&captureSender{}))
	err := m.Verify(models.ChannelEmail, "nobody@x.com", "123456")
	if !errors.Is(err, models.ErrNoCodeFound) {
		t.Fatalf("expected ErrNoCodeFound, got %v", err)
	}
}

func TestVerifyMismatchLeavesRecord(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(WithSender(sender))
	if err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrong := "000000"
	if wrong == sender.code {
		wrong = "000001"
	}
	if err := m.Verify(models.ChannelEmail, "jane@x.com", wrong); !errors.Is(err, models.ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	// The right code still works after a mismatch.
	if err := m.Verify(models.ChannelEmail, "jane@x.com", sender.code); err != nil {
		t.Fatalf("correct code should still verify: %v", err)
	}
}

func TestVerifiedCodeNotReplayable(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(WithSender(sender))
	if err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := m.Verify(models.ChannelEmail, "jane@x.com", sender.code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	err := m.Verify(models.ChannelEmail, "jane@x.com", sender.code)
	if !errors.Is(err, models.ErrNoCodeFound) {
		t.Fatalf("replayed code should find no record, got %v", err)
	}
}

func TestReissueInvalidatesOldCode(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(WithSender(sender))
	if err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com"); err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}
	oldCode := sender.code

	if err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com"); err != nil {
		t.Fatalf("second Issue failed: %v", err)
	}
	if sender.code == oldCode {
		t.Skip("random codes collided; cannot distinguish old from new")
	}
	err := m.Verify(models.ChannelEmail, "jane@x.com", oldCode)
	if !errors.Is(err, models.ErrCodeMismatch) && !errors.Is(err, models.ErrNoCodeFound) {
		t.Fatalf("old code must not verify after re-issue, got %v", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	now := time.Now()
	clock := now
	sender := &captureSender{}
	m := NewManager(WithSender(sender), WithClock(func() time.Time { return clock }))

	if err := m.Issue(context.Background(), models.ChannelPhone, "+15551234567"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock = now.Add(9*time.Minute + 59*time.Second)
	if err := m.Verify(models.ChannelPhone, "+15551234567", sender.code); err != nil {
		t.Fatalf("9:59-old code should verify: %v", err)
	}

	if err := m.Issue(context.Background(), models.ChannelPhone, "+15551234567"); err != nil {
		t.Fatalf("re-issue failed: %v", err)
	}
	issuedAt := clock
	clock = issuedAt.Add(10*time.Minute + 1*time.Second)
	err := m.Verify(models.ChannelPhone, "+15551234567", sender.code)
	if !errors.Is(err, models.ErrCodeExpired) {
		t.Fatalf("10:01-old code should be expired, got %v", err)
	}
}

func TestAttemptCap(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(WithSender(sender))
	if err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	wrong := "000000"
	if wrong == sender.code {
		wrong = "000001"
	}
	for i := 0; i < MaxVerifyAttempts-1; i++ {
		if err := m.Verify(models.ChannelEmail, "jane@x.com", wrong); !errors.Is(err, models.ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}
	if err := m.Verify(models.ChannelEmail, "jane@x.com", wrong); !errors.Is(err, models.ErrTooManyAttempts) {
		t.Fatalf("final attempt should lock out, got %v", err)
	}
	// Record destroyed; even the right code now fails.
	if err := m.Verify(models.ChannelEmail, "jane@x.com", sender.code); !errors.Is(err, models.ErrNoCodeFound) {
		t.Fatalf("locked-out identifier should have no record, got %v", err)
	}
}

func TestReap(t *testing.T) {
	now := time.Now()
	clock := now
	sender := &captureSender{}
	m := NewManager(WithSender(sender), WithClock(func() time.Time { return clock }))

	if err := m.Issue(context.Background(), models.ChannelEmail, "old@x.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	clock = now.Add(11 * time.Minute)
	if err := m.Issue(context.Background(), models.ChannelEmail, "fresh@x.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if removed := m.Reap(); removed != 1 {
		t.Fatalf("Reap removed %d records, want 1", removed)
	}
	if !m.Pending(models.ChannelEmail, "fresh@x.com") {
		t.Error("fresh record should survive the reap")
	}
	if m.Pending(models.ChannelEmail, "old@x.com") {
		t.Error("expired record should be gone")
	}
}

func TestIssueDeliveryFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	m := NewManager(WithSender(sender))
	err := m.Issue(context.Background(), models.ChannelEmail, "jane@x.com")
	if err == nil {
		t.Fatal("expected delivery error")
	}
	// Record was stored before the send fired, so the code remains valid.
	if !m.Pending(models.ChannelEmail, "jane@x.com") {
		t.Error("record should persist past a delivery failure")
	}
}
