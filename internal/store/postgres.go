// Package store provides storage backends for abandoned lead records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) UpsertLead(ctx context.Context, lead models.AbandonedLead) error {
	if lead.ID == "" {
		lead.ID = util.GenerateRandomID("l_", 32)
	}
	issues, err := marshalJSON(lead.Issues)
	if err != nil {
		return err
	}
	answers, err := marshalJSON(lead.Answers)
	if err != nil {
		return err
	}
	history, err := marshalJSON(lead.History)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO abandoned_leads (id, identifier, email, phone, name, issues, answers,
			question, question_answer, last_phase, history,
			started_at, last_updated, session_duration_seconds,
			followed_up, converted, needs_followup)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (identifier) DO UPDATE SET
			email = excluded.email,
			phone = excluded.phone,
			name = excluded.name,
			issues = excluded.issues,
			answers = excluded.answers,
			question = excluded.question,
			question_answer = excluded.question_answer,
			last_phase = excluded.last_phase,
			history = excluded.history,
			last_updated = excluded.last_updated,
			session_duration_seconds = excluded.session_duration_seconds,
			needs_followup = abandoned_leads.needs_followup OR excluded.needs_followup
		WHERE abandoned_leads.converted = FALSE`

	_, err = s.db.ExecContext(ctx, query,
		lead.ID, lead.Identifier, nilIfEmpty(lead.Email), nilIfEmpty(lead.Phone), nilIfEmpty(lead.Name),
		issues, answers, nilIfEmpty(lead.Question), nilIfEmpty(lead.QuestionAnswer),
		string(lead.LastPhase), history,
		lead.StartedAt, lead.LastUpdated, int64(lead.SessionDuration/time.Second),
		lead.FollowedUp, lead.Converted, lead.NeedsFollowup,
	)
	if err != nil {
		slog.Error("PostgresStore UpsertLead failed", "error", err, "identifier", lead.Identifier)
		return fmt.Errorf("failed to upsert lead %s: %w", lead.Identifier, err)
	}
	slog.Debug("PostgresStore UpsertLead succeeded", "identifier", lead.Identifier, "phase", lead.LastPhase)
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, identifier string) (*models.AbandonedLead, error) {
	query := `SELECT ` + leadColumns + ` FROM abandoned_leads WHERE identifier = $1 AND converted = FALSE`

	lead, err := scanLead(s.db.QueryRowContext(ctx, query, identifier))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetLead not found", "identifier", identifier)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "identifier", identifier)
		return nil, fmt.Errorf("failed to get lead %s: %w", identifier, err)
	}
	return &lead, nil
}

func (s *PostgresStore) ListUpdatedSince(ctx context.Context, since time.Time) ([]models.AbandonedLead, error) {
	query := `SELECT ` + leadColumns + ` FROM abandoned_leads WHERE last_updated >= $1 AND converted = FALSE ORDER BY last_updated DESC`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		slog.Error("PostgresStore ListUpdatedSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.AbandonedLead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			slog.Error("PostgresStore ListUpdatedSince scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListUpdatedSince rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	slog.Debug("PostgresStore ListUpdatedSince succeeded", "count", len(leads))
	return leads, nil
}

func (s *PostgresStore) MarkConverted(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE abandoned_leads SET converted = TRUE WHERE identifier = $1`, identifier)
	if err != nil {
		slog.Error("PostgresStore MarkConverted failed", "error", err, "identifier", identifier)
		return fmt.Errorf("failed to mark lead %s converted: %w", identifier, err)
	}
	slog.Debug("PostgresStore MarkConverted succeeded", "identifier", identifier)
	return nil
}

func (s *PostgresStore) MarkFollowedUp(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE abandoned_leads SET followed_up = TRUE WHERE identifier = $1`, identifier)
	if err != nil {
		slog.Error("PostgresStore MarkFollowedUp failed", "error", err, "identifier", identifier)
		return fmt.Errorf("failed to mark lead %s followed up: %w", identifier, err)
	}
	slog.Debug("PostgresStore MarkFollowedUp succeeded", "identifier", identifier)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
