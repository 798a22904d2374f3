package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSON encodes v as a JSON string, returning nil for empty values so
// the column stays NULL.
func marshalJSON(v any) (interface{}, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []models.ConversationMessage:
		if len(t) == 0 {
			return nil, nil
		}
	}
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(jsonBytes), nil
}

// leadScanner is satisfied by both *sql.Row and *sql.Rows.
type leadScanner interface {
	Scan(dest ...any) error
}

// scanLead scans an AbandonedLead from a row in column order.
func scanLead(row leadScanner) (models.AbandonedLead, error) {
	var l models.AbandonedLead
	var email, phone, name, issuesJSON, answersJSON, question, questionAnswer, historyJSON sql.NullString
	var phase string
	var durationSeconds int64

	err := row.Scan(
		&l.ID, &l.Identifier, &email, &phone, &name, &issuesJSON, &answersJSON,
		&question, &questionAnswer, &phase, &historyJSON,
		&l.StartedAt, &l.LastUpdated, &durationSeconds,
		&l.FollowedUp, &l.Converted, &l.NeedsFollowup,
	)
	if err != nil {
		return l, err
	}

	l.Email = email.String
	l.Phone = phone.String
	l.Name = name.String
	l.Question = question.String
	l.QuestionAnswer = questionAnswer.String
	l.LastPhase = models.Phase(phase)
	l.SessionDuration = time.Duration(durationSeconds) * time.Second

	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &l.Issues); err != nil {
			return l, fmt.Errorf("failed to unmarshal issues column: %w", err)
		}
	}
	if answersJSON.Valid && answersJSON.String != "" {
		if err := json.Unmarshal([]byte(answersJSON.String), &l.Answers); err != nil {
			return l, fmt.Errorf("failed to unmarshal answers column: %w", err)
		}
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &l.History); err != nil {
			return l, fmt.Errorf("failed to unmarshal history column: %w", err)
		}
	}
	return l, nil
}

// leadColumns is the canonical select column order matched by scanLead.
const leadColumns = `id, identifier, email, phone, name, issues, answers,
	question, question_answer, last_phase, history,
	started_at, last_updated, session_duration_seconds,
	followed_up, converted, needs_followup`
