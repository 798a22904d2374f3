// Package models defines durable lead records produced by abandonment recovery.
package models

import "time"

// AbandonedLead is the durable record reconstructed from a partial-progress
// snapshot when a visitor never reaches Done. At most one unconverted record
// exists per contact identifier; later abandonments update it in place.
type AbandonedLead struct {
	ID              string                `json:"id"`
	Identifier      string                `json:"identifier,omitempty"` // normalized contact key, empty pre-contact
	Email           string                `json:"email,omitempty"`
	Phone           string                `json:"phone,omitempty"`
	Name            string                `json:"name,omitempty"`
	Issues          []string              `json:"issues,omitempty"`
	Answers         map[string]string     `json:"answers,omitempty"`
	Question        string                `json:"question,omitempty"`
	QuestionAnswer  string                `json:"question_answer,omitempty"`
	LastPhase       Phase                 `json:"last_phase"`
	History         []ConversationMessage `json:"history,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	LastUpdated     time.Time             `json:"last_updated"`
	SessionDuration time.Duration         `json:"session_duration"`
	FollowedUp      bool                  `json:"followed_up"`
	Converted       bool                  `json:"converted"`
	NeedsFollowup   bool                  `json:"needs_followup"` // verified lead whose CRM handoff failed
}

// HighValue reports whether the lead falls in the highest balance band.
func (l *AbandonedLead) HighValue() bool {
	return l.Answers["balanceBand"] == BalanceBandHigh
}

// HasContact reports whether any contact channel was captured.
func (l *AbandonedLead) HasContact() bool {
	return l.Email != "" || l.Phone != ""
}

// DigestSummary aggregates abandoned leads for the daily funnel report.
type DigestSummary struct {
	Since               time.Time     `json:"since"`
	Until               time.Time     `json:"until"`
	Total               int           `json:"total"`
	ByPhase             map[Phase]int `json:"by_phase"`
	WithEmail           int           `json:"with_email"`
	WithPhone           int           `json:"with_phone"`
	WithoutContact      int           `json:"without_contact"`
	HighBalance         int           `json:"high_balance"`
	StuckAtVerification int           `json:"stuck_at_verification"`
}
