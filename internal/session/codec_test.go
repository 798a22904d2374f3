package session

import (
	"strings"
	"testing"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

var testSecret = []byte("test-signing-secret-0123456789ab")

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(append([]Option{WithSecret(testSecret)}, opts...)...)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return c
}

func TestCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(); err == nil {
		t.Fatal("expected error without a secret")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	snap := models.ProgressSnapshot{
		SessionID: "s_abc123",
		LastPhase: models.PhaseQuestion,
		Form: models.IntakeForm{
			Issues:  []string{"balance_due"},
			Answers: map[string]string{"balanceBand": "gt50k"},
		},
		StartedAt: time.Now().Add(-time.Hour).Truncate(time.Second),
		UpdatedAt: time.Now().Truncate(time.Second),
	}

	token, err := c.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	got := c.DecodeSnapshot(token)
	if got == nil {
		t.Fatal("DecodeSnapshot returned nil for a valid token")
	}
	if got.SessionID != snap.SessionID || got.LastPhase != snap.LastPhase {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.Form.Answers["balanceBand"] != "gt50k" {
		t.Error("form answers lost in round trip")
	}
}

func TestTamperedSnapshotRejected(t *testing.T) {
	c := newTestCodec(t)
	token, err := c.EncodeSnapshot(models.ProgressSnapshot{SessionID: "s_1", LastPhase: models.PhaseName})
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}

	// Flip a character inside the payload segment.
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[4] == 'A' {
		payload[4] = 'B'
	} else {
		payload[4] = 'A'
	}
	parts[1] = string(payload)
	tampered := strings.Join(parts, ".")

	if got := c.DecodeSnapshot(tampered); got != nil {
		t.Error("tampered token must decode to nil")
	}
}

func TestSnapshotPastHorizonIsNone(t *testing.T) {
	now := time.Now()
	clock := now
	c := newTestCodec(t, WithClock(func() time.Time { return clock }))

	token, err := c.EncodeSnapshot(models.ProgressSnapshot{SessionID: "s_1", LastPhase: models.PhaseName})
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}

	clock = now.Add(models.SnapshotHorizon + time.Hour)
	if got := c.DecodeSnapshot(token); got != nil {
		t.Error("snapshot older than 7 days must be treated as none")
	}
}

func TestOversizedSnapshotRejected(t *testing.T) {
	c := newTestCodec(t)
	snap := models.ProgressSnapshot{SessionID: "s_1"}
	snap.Form.Question = strings.Repeat("x", models.MaxSnapshotBytes)
	if _, err := c.EncodeSnapshot(snap); err == nil {
		t.Fatal("expected size-bound rejection")
	}
}

func TestWindowRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	w := models.RateLimitWindow{Count: 2, ResetAt: time.Now().Add(3 * time.Hour).Truncate(time.Second)}

	token, err := c.EncodeWindow(w)
	if err != nil {
		t.Fatalf("EncodeWindow failed: %v", err)
	}
	got := c.DecodeWindow(token)
	if got.Count != 2 {
		t.Errorf("window count = %d, want 2", got.Count)
	}
	if !got.ResetAt.Equal(w.ResetAt) {
		t.Errorf("window resetAt = %v, want %v", got.ResetAt, w.ResetAt)
	}
}

func TestInvalidWindowDecodesFresh(t *testing.T) {
	c := newTestCodec(t)
	got := c.DecodeWindow("not-a-token")
	if got.Count != 0 || !got.ResetAt.IsZero() {
		t.Errorf("invalid window token should decode to a fresh window, got %+v", got)
	}
	if got := c.DecodeWindow(""); got.Count != 0 {
		t.Error("empty token should decode to a fresh window")
	}
}
