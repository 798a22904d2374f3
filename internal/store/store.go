// Package store provides storage backends for abandoned lead records.
//
// It includes SQLite and PostgreSQL implementations sharing the same
// schema; the backend is chosen from the DSN at startup.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// LeadStore persists abandoned lead records keyed by contact identifier.
type LeadStore interface {
	// UpsertLead inserts or updates the record for lead.Identifier. The
	// original started_at is kept on update, and needs_followup is sticky
	// once set. Converted records are never overwritten.
	UpsertLead(ctx context.Context, lead models.AbandonedLead) error
	// GetLead returns the unconverted record for the identifier, or nil
	// when none exists.
	GetLead(ctx context.Context, identifier string) (*models.AbandonedLead, error)
	// ListUpdatedSince returns the unconverted records touched at or after
	// the cutoff, newest first. Converted leads are no longer abandoned and
	// stay out of digests and sweeps.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]models.AbandonedLead, error)
	// MarkConverted flags the record so it is excluded from recovery and
	// future upserts.
	MarkConverted(ctx context.Context, identifier string) error
	// MarkFollowedUp records that an agent has acted on the lead.
	MarkFollowedUp(ctx context.Context, identifier string) error
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
