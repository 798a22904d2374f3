// Package abandon reconciles partial-progress snapshots into durable
// abandoned lead records so agents can follow up on sessions that never
// reached completion.
package abandon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/session"
	"github.com/leadqualifier/leadqualifier/internal/store"
)

// DefaultIdleThreshold is how long a session must sit untouched before the
// sweep treats it as abandoned.
const DefaultIdleThreshold = 30 * time.Minute

// Alerter sends an immediate high-priority notification for a lead that
// abandoned moments away from converting.
type Alerter interface {
	Alert(ctx context.Context, lead models.AbandonedLead) error
}

// Reconciler turns snapshots into lead records, deduplicated per contact
// identifier.
type Reconciler struct {
	store   store.LeadStore
	tracker *session.Tracker
	alerter Alerter
	idle    time.Duration
	now     func() time.Time
}

// Opts holds configuration for the reconciler.
type Opts struct {
	Alerter Alerter
	Idle    time.Duration
	Now     func() time.Time
}

// Option configures the reconciler.
type Option func(*Opts)

// WithAlerter enables immediate notifications for near-converted abandons.
func WithAlerter(a Alerter) Option {
	return func(o *Opts) { o.Alerter = a }
}

// WithIdleThreshold overrides how long a session may idle before the sweep
// reconciles it.
func WithIdleThreshold(d time.Duration) Option {
	return func(o *Opts) { o.Idle = d }
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// NewReconciler creates a reconciler over the given lead store and session
// tracker.
func NewReconciler(leadStore store.LeadStore, tracker *session.Tracker, opts ...Option) *Reconciler {
	cfg := Opts{Idle: DefaultIdleThreshold, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Reconciler{
		store:   leadStore,
		tracker: tracker,
		alerter: cfg.Alerter,
		idle:    cfg.Idle,
		now:     cfg.Now,
	}
}

// Reconcile records the snapshot as an abandoned lead. Completed sessions
// are not recorded; instead any earlier abandoned record for the same
// contact is marked converted so it drops out of recovery.
func (r *Reconciler) Reconcile(ctx context.Context, s models.ProgressSnapshot) error {
	if s.LastPhase == models.PhaseDone {
		id := s.Form.PrimaryIdentifier()
		if id == "" {
			return nil
		}
		if err := r.store.MarkConverted(ctx, id); err != nil {
			return fmt.Errorf("failed to mark %s converted: %w", id, err)
		}
		slog.Debug("Reconciler.Reconcile: completed session closed out", "identifier", id)
		return nil
	}

	lead := r.leadFromSnapshot(s)
	if err := r.store.UpsertLead(ctx, lead); err != nil {
		return fmt.Errorf("failed to record abandoned lead: %w", err)
	}
	slog.Info("Reconciler.Reconcile: abandoned lead recorded",
		"identifier", lead.Identifier, "phase", lead.LastPhase, "hasContact", lead.HasContact())

	// Abandoning at the verification step with contact on file is the
	// highest-intent signal we see; surface it right away.
	if r.alerter != nil && lead.LastPhase == models.PhaseVerification && lead.HasContact() {
		if err := r.alerter.Alert(ctx, lead); err != nil {
			slog.Error("Reconciler.Reconcile: alert failed", "error", err, "identifier", lead.Identifier)
		}
	}
	return nil
}

// FlagNeedsFollowup records a fully verified lead whose downstream handoff
// failed, so an agent can create the case by hand.
func (r *Reconciler) FlagNeedsFollowup(ctx context.Context, s models.ProgressSnapshot) error {
	lead := r.leadFromSnapshot(s)
	lead.NeedsFollowup = true
	if err := r.store.UpsertLead(ctx, lead); err != nil {
		return fmt.Errorf("failed to flag lead for followup: %w", err)
	}
	slog.Warn("Reconciler.FlagNeedsFollowup: lead flagged for manual handoff", "identifier", lead.Identifier)
	return nil
}

// Sweep reconciles every tracked session idle past the threshold and
// returns how many were recorded.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale := r.tracker.Stale(r.idle)
	var reconciled int
	var firstErr error
	for _, s := range stale {
		if err := r.Reconcile(ctx, s); err != nil {
			slog.Error("Reconciler.Sweep: reconcile failed", "error", err, "sessionID", s.SessionID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reconciled++
	}
	if len(stale) > 0 {
		slog.Info("Reconciler.Sweep: sweep finished", "stale", len(stale), "reconciled", reconciled)
	}
	return reconciled, firstErr
}

func (r *Reconciler) leadFromSnapshot(s models.ProgressSnapshot) models.AbandonedLead {
	identifier := s.Form.PrimaryIdentifier()
	if identifier == "" {
		// No contact captured yet; key by session so repeat abandons of the
		// same visit still collapse into one record.
		identifier = "session:" + s.SessionID
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = r.now()
	}
	var duration time.Duration
	if !s.StartedAt.IsZero() && updated.After(s.StartedAt) {
		duration = updated.Sub(s.StartedAt)
	}
	return models.AbandonedLead{
		Identifier:      identifier,
		Email:           s.Form.Email,
		Phone:           s.Form.Phone,
		Name:            s.Form.Name,
		Issues:          s.Form.Issues,
		Answers:         s.Form.Answers,
		Question:        s.Form.Question,
		QuestionAnswer:  s.Form.QuestionAnswer,
		LastPhase:       s.LastPhase,
		History:         s.History,
		StartedAt:       s.StartedAt,
		LastUpdated:     updated,
		SessionDuration: duration,
	}
}
