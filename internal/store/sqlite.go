// Package store provides storage backends for abandoned lead records.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists (skip for in-memory databases)
	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertLead(ctx context.Context, lead models.AbandonedLead) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
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
		WHERE abandoned_leads.converted = 0`

	_, err = s.db.ExecContext(ctx, query,
		lead.ID, lead.Identifier, nilIfEmpty(lead.Email), nilIfEmpty(lead.Phone), nilIfEmpty(lead.Name),
		issues, answers, nilIfEmpty(lead.Question), nilIfEmpty(lead.QuestionAnswer),
		string(lead.LastPhase), history,
		lead.StartedAt, lead.LastUpdated, int64(lead.SessionDuration/time.Second),
		lead.FollowedUp, lead.Converted, lead.NeedsFollowup,
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertLead failed", "error", err, "identifier", lead.Identifier)
		return fmt.Errorf("failed to upsert lead %s: %w", lead.Identifier, err)
	}
	slog.Debug("SQLiteStore UpsertLead succeeded", "identifier", lead.Identifier, "phase", lead.LastPhase)
	return nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, identifier string) (*models.AbandonedLead, error) {
	query := `SELECT ` + leadColumns + ` FROM abandoned_leads WHERE identifier = ? AND converted = 0`

	lead, err := scanLead(s.db.QueryRowContext(ctx, query, identifier))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetLead not found", "identifier", identifier)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLead failed", "error", err, "identifier", identifier)
		return nil, fmt.Errorf("failed to get lead %s: %w", identifier, err)
	}
	return &lead, nil
}

func (s *SQLiteStore) ListUpdatedSince(ctx context.Context, since time.Time) ([]models.AbandonedLead, error) {
	query := `SELECT ` + leadColumns + ` FROM abandoned_leads WHERE last_updated >= ? AND converted = 0 ORDER BY last_updated DESC`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		slog.Error("SQLiteStore ListUpdatedSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.AbandonedLead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			slog.Error("SQLiteStore ListUpdatedSince scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListUpdatedSince rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	slog.Debug("SQLiteStore ListUpdatedSince succeeded", "count", len(leads))
	return leads, nil
}

func (s *SQLiteStore) MarkConverted(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE abandoned_leads SET converted = 1 WHERE identifier = ?`, identifier)
	if err != nil {
		slog.Error("SQLiteStore MarkConverted failed", "error", err, "identifier", identifier)
		return fmt.Errorf("failed to mark lead %s converted: %w", identifier, err)
	}
	slog.Debug("SQLiteStore MarkConverted succeeded", "identifier", identifier)
	return nil
}

func (s *SQLiteStore) MarkFollowedUp(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE abandoned_leads SET followed_up = 1 WHERE identifier = ?`, identifier)
	if err != nil {
		slog.Error("SQLiteStore MarkFollowedUp failed", "error", err, "identifier", identifier)
		return fmt.Errorf("failed to mark lead %s followed up: %w", identifier, err)
	}
	slog.Debug("SQLiteStore MarkFollowedUp succeeded", "identifier", identifier)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
