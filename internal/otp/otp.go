// Package otp issues and validates one-time verification codes per contact channel.
//
// Records live in a shared in-memory map keyed by the normalized contact
// identifier. All mutations happen under one mutex so a reap can never race a
// concurrent verify on the same key.
package otp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/util"
)

// CodeLength is the number of digits in an issued code.
const CodeLength = 6

// MaxVerifyAttempts caps failed code entries before the record is destroyed
// and the visitor must request a fresh code.
const MaxVerifyAttempts = 5

// CodeSender delivers an issued code over the channel's transport. The send
// fires only after the record is stored, never before.
type CodeSender interface {
	Deliver(ctx context.Context, channel models.Channel, to, code string) error
}

// Opts holds configuration options for the Manager.
type Opts struct {
	Sender CodeSender
	TTL    time.Duration
	Now    func() time.Time
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithSender sets the delivery transport for issued codes.
func WithSender(s CodeSender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithTTL overrides the default code lifetime.
func WithTTL(d time.Duration) Option {
	return func(o *Opts) { o.TTL = d }
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Manager owns the one-time-code lifecycle: issue, verify, reap.
type Manager struct {
	mu      sync.Mutex
	records map[string]*models.OTPRecord
	sender  CodeSender
	ttl     time.Duration
	now     func() time.Time
}

// NewManager creates a Manager with the default 10-minute code TTL.
func NewManager(opts ...Option) *Manager {
	cfg := Opts{
		TTL: models.CodeTTL,
		Now: time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating OTP Manager", "ttl", cfg.TTL, "sender_set", cfg.Sender != nil)
	return &Manager{
		records: make(map[string]*models.OTPRecord),
		sender:  cfg.Sender,
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}
}

// Issue generates a fresh 6-digit code for the contact value, overwriting any
// existing record for the same identifier, and hands it to the delivery
// transport. The code itself is never returned to the caller.
func (m *Manager) Issue(ctx context.Context, channel models.Channel, value string) error {
	identifier := models.ContactIdentifier(channel, value)
	code := util.GenerateNumericCode(CodeLength)
	now := m.now()

	m.mu.Lock()
	m.records[identifier] = &models.OTPRecord{
		Identifier: identifier,
		Code:       code,
		Channel:    channel,
		CreatedAt:  now,
		Verified:   false,
	}
	m.mu.Unlock()
	slog.Debug("Manager.Issue: code stored", "identifier", identifier, "channel", channel)

	if m.sender == nil {
		slog.Error("Manager.Issue: no code sender configured", "identifier", identifier)
		return fmt.Errorf("issue code for %s: no sender configured: %w", identifier, models.ErrUpstream)
	}
	if err := m.sender.Deliver(ctx, channel, value, code); err != nil {
		slog.Error("Manager.Issue: delivery failed", "error", err, "identifier", identifier, "channel", channel)
		return fmt.Errorf("deliver code for %s: %w", identifier, err)
	}
	slog.Info("Manager.Issue: code delivered", "identifier", identifier, "channel", channel)
	return nil
}

// Verify checks the submitted code for the contact value. On match the record
// is destroyed so the code can never be replayed. Mismatches leave the code in
// place but count toward the attempt cap.
func (m *Manager) Verify(channel models.Channel, value, submitted string) error {
	identifier := models.ContactIdentifier(channel, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[identifier]
	if !ok {
		slog.Warn("Manager.Verify: no record", "identifier", identifier)
		return models.ErrNoCodeFound
	}
	if rec.Expired(m.now()) {
		delete(m.records, identifier)
		slog.Warn("Manager.Verify: code expired", "identifier", identifier)
		return models.ErrCodeExpired
	}
	if rec.Verified {
		// Verified records are destroyed on the success path; this guard
		// covers the window before a reap if that ever changes.
		delete(m.records, identifier)
		slog.Warn("Manager.Verify: replay of verified code", "identifier", identifier)
		return models.ErrNoCodeFound
	}
	if rec.Code != submitted {
		rec.Attempts++
		if rec.Attempts >= MaxVerifyAttempts {
			delete(m.records, identifier)
			slog.Warn("Manager.Verify: attempt cap reached", "identifier", identifier, "attempts", rec.Attempts)
			return models.ErrTooManyAttempts
		}
		slog.Warn("Manager.Verify: code mismatch", "identifier", identifier, "attempts", rec.Attempts)
		return models.ErrCodeMismatch
	}

	rec.Verified = true
	delete(m.records, identifier)
	slog.Info("Manager.Verify: code verified", "identifier", identifier, "channel", channel)
	return nil
}

// Reap deletes every record that is expired or already verified and returns
// how many were removed. It runs on a fixed interval from the scheduler.
func (m *Manager) Reap() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if rec.Verified || rec.Expired(now) {
			delete(m.records, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Manager.Reap: records removed", "count", removed, "remaining", len(m.records))
	}
	return removed
}

// Pending reports whether a live unverified record exists for the contact
// value. Used by the resume path to decide whether to re-issue.
func (m *Manager) Pending(channel models.Channel, value string) bool {
	identifier := models.ContactIdentifier(channel, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[identifier]
	return ok && !rec.Verified && !rec.Expired(m.now())
}
