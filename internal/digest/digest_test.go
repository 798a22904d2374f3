package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

type mockMailer struct {
	to      string
	subject string
	plain   string
	html    string
	calls   int
	err     error
}

func (m *mockMailer) Send(ctx context.Context, to, subject, plain, html string) error {
	m.to = to
	m.subject = subject
	m.plain = plain
	m.html = html
	m.calls++
	return m.err
}

type mockLeadStore struct {
	leads   []models.AbandonedLead
	listErr error
	since   time.Time
}

func (m *mockLeadStore) UpsertLead(ctx context.Context, lead models.AbandonedLead) error { return nil }

func (m *mockLeadStore) GetLead(ctx context.Context, identifier string) (*models.AbandonedLead, error) {
	return nil, nil
}

func (m *mockLeadStore) ListUpdatedSince(ctx context.Context, since time.Time) ([]models.AbandonedLead, error) {
	m.since = since
	return m.leads, m.listErr
}

func (m *mockLeadStore) MarkConverted(ctx context.Context, identifier string) error  { return nil }
func (m *mockLeadStore) MarkFollowedUp(ctx context.Context, identifier string) error { return nil }
func (m *mockLeadStore) Close() error                                                { return nil }

func sampleLeads() []models.AbandonedLead {
	return []models.AbandonedLead{
		{
			Identifier:      "email:jane@example.com",
			Email:           "jane@example.com",
			Name:            "Jane Doe",
			Issues:          []string{"balance_due", "lien"},
			Answers:         map[string]string{"balanceBand": "gt50k"},
			LastPhase:       models.PhaseVerification,
			SessionDuration: 9 * time.Minute,
		},
		{
			Identifier: "phone:+15551234567",
			Phone:      "+15551234567",
			LastPhase:  models.PhaseName,
			Answers:    map[string]string{"balanceBand": "lt10k"},
		},
		{
			Identifier: "session:s_xyz",
			LastPhase:  models.PhaseIntakeIssues,
		},
	}
}

func TestSummarize(t *testing.T) {
	since := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	s := Summarize(sampleLeads(), since, until)
	if s.Total != 3 {
		t.Errorf("total = %d, want 3", s.Total)
	}
	if s.WithEmail != 1 || s.WithPhone != 1 || s.WithoutContact != 1 {
		t.Errorf("contact counts wrong: email=%d phone=%d none=%d", s.WithEmail, s.WithPhone, s.WithoutContact)
	}
	if s.HighBalance != 1 {
		t.Errorf("high balance = %d, want 1", s.HighBalance)
	}
	if s.StuckAtVerification != 1 {
		t.Errorf("stuck at verification = %d, want 1", s.StuckAtVerification)
	}
	if s.ByPhase[models.PhaseName] != 1 || s.ByPhase[models.PhaseVerification] != 1 {
		t.Errorf("phase breakdown wrong: %v", s.ByPhase)
	}
}

func TestRunDaily(t *testing.T) {
	st := &mockLeadStore{leads: sampleLeads()}
	mailer := &mockMailer{}
	current := time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)
	r, err := NewReporter(st, mailer, WithRecipient("leads@example.com"), WithClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}

	if err := r.RunDaily(context.Background()); err != nil {
		t.Fatalf("RunDaily failed: %v", err)
	}
	if mailer.calls != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.calls)
	}
	if mailer.to != "leads@example.com" {
		t.Errorf("wrong recipient: %s", mailer.to)
	}
	if !st.since.Equal(current.Add(-24 * time.Hour)) {
		t.Errorf("wrong window start: %v", st.since)
	}
	if !strings.Contains(mailer.subject, "3 abandoned lead(s)") {
		t.Errorf("subject missing totals: %q", mailer.subject)
	}
	if !strings.Contains(mailer.html, "jane@example.com") {
		t.Errorf("digest body missing lead rows")
	}
	if !strings.Contains(mailer.html, "Stuck at verification") {
		t.Errorf("digest body missing verification counter")
	}
}

func TestRunDailyEmptyWindowSkipsEmail(t *testing.T) {
	st := &mockLeadStore{}
	mailer := &mockMailer{}
	r, err := NewReporter(st, mailer, WithRecipient("leads@example.com"))
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}

	if err := r.RunDaily(context.Background()); err != nil {
		t.Fatalf("RunDaily failed: %v", err)
	}
	if mailer.calls != 0 {
		t.Errorf("no leads must mean no email, got %d", mailer.calls)
	}
}

func TestRunDailyStoreError(t *testing.T) {
	st := &mockLeadStore{listErr: errors.New("db down")}
	mailer := &mockMailer{}
	r, err := NewReporter(st, mailer, WithRecipient("leads@example.com"))
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}
	if err := r.RunDaily(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
	if mailer.calls != 0 {
		t.Errorf("must not email on store failure")
	}
}

func TestAlert(t *testing.T) {
	mailer := &mockMailer{}
	r, err := NewReporter(&mockLeadStore{}, mailer, WithRecipient("leads@example.com"))
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}

	lead := sampleLeads()[0]
	if err := r.Alert(context.Background(), lead); err != nil {
		t.Fatalf("Alert failed: %v", err)
	}
	if mailer.calls != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.calls)
	}
	if !strings.Contains(mailer.subject, "email:jane@example.com") {
		t.Errorf("alert subject missing identifier: %q", mailer.subject)
	}
	if !strings.Contains(mailer.html, "Jane Doe") {
		t.Errorf("alert body missing lead details")
	}
}

func TestNewReporterRequiresRecipient(t *testing.T) {
	if _, err := NewReporter(&mockLeadStore{}, &mockMailer{}); err == nil {
		t.Fatal("expected error without recipient")
	}
}
