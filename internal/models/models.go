// Package models defines the core data structures for the lead qualifier.
//
// It includes the conversation phase enum, the intake form accumulated across
// phases, and the API response envelope shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Phase identifies one discrete stage of the intake conversation.
type Phase string

const (
	// PhaseIntakeIssues collects the visitor's selected issue tags.
	PhaseIntakeIssues Phase = "intake_issues"
	// PhaseIntakeQuestions walks the active conditional follow-up steps.
	PhaseIntakeQuestions Phase = "intake_questions"
	// PhaseQuestion accepts one free-text question answered by the assistant.
	PhaseQuestion Phase = "question"
	// PhaseName collects the visitor's display name.
	PhaseName Phase = "name"
	// PhaseContactOffer asks which contact channel(s) the visitor prefers.
	PhaseContactOffer Phase = "contact_offer"
	// PhaseContactDetails collects the email and/or phone value.
	PhaseContactDetails Phase = "contact_details"
	// PhaseVerification waits for the one-time code(s).
	PhaseVerification Phase = "verification"
	// PhaseDone marks a finalized lead.
	PhaseDone Phase = "done"
)

// IsValidPhase checks if the given phase is one of the defined stages.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseIntakeIssues, PhaseIntakeQuestions, PhaseQuestion, PhaseName,
		PhaseContactOffer, PhaseContactDetails, PhaseVerification, PhaseDone:
		return true
	default:
		return false
	}
}

// ContactPreference selects which contact channels must be captured and
// verified before the lead finalizes.
type ContactPreference string

const (
	ContactPreferenceEmail ContactPreference = "email"
	ContactPreferencePhone ContactPreference = "phone"
	ContactPreferenceBoth  ContactPreference = "both"
)

// IsValidContactPreference checks if the given preference is supported.
func IsValidContactPreference(p ContactPreference) bool {
	switch p {
	case ContactPreferenceEmail, ContactPreferencePhone, ContactPreferenceBoth:
		return true
	default:
		return false
	}
}

// Channel identifies a single contact channel for code delivery.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// ContactIdentifier builds the normalized key used by the OTP store and the
// abandoned-lead store, e.g. "email:someone@x.com".
func ContactIdentifier(ch Channel, value string) string {
	return fmt.Sprintf("%s:%s", ch, strings.ToLower(strings.TrimSpace(value)))
}

// Validation constants for input validation
const (
	// MinQuestionLength defines the minimum length for the free-text question
	MinQuestionLength = 5
	// MaxQuestionLength defines the maximum length for the free-text question
	MaxQuestionLength = 1000
	// MaxAnswerLength defines the maximum length for a follow-up step answer
	MaxAnswerLength = 200
	// MaxNameLength defines the maximum length for the visitor's display name
	MaxNameLength = 100
	// MaxIssueSelections defines the maximum number of issue tags per form
	MaxIssueSelections = 8
	// MaxHistoryMessages bounds the conversation transcript carried in the snapshot
	MaxHistoryMessages = 40
	// MaxHistoryMessageLength bounds each transcript entry
	MaxHistoryMessageLength = 2000
)

// Timing constants shared across components
const (
	// CodeTTL is how long an issued one-time code stays valid
	CodeTTL = 10 * time.Minute
	// ReapInterval is how often expired/verified codes are swept
	ReapInterval = 5 * time.Minute
	// QuestionBudget is the max free-text questions per rolling window
	QuestionBudget = 3
	// RateWindow is the rolling window for the question budget
	RateWindow = 24 * time.Hour
	// SnapshotHorizon is how long a partial-progress snapshot stays resumable
	SnapshotHorizon = 7 * 24 * time.Hour
	// SaveDebounce coalesces rapid snapshot writes
	SaveDebounce = 2 * time.Second
)

// Error variables for better error handling and testability
var (
	ErrNoIssuesSelected = errors.New("select at least one issue")
	ErrUnknownIssueTag  = errors.New("unknown issue tag")
	ErrUnknownStepKey   = errors.New("unknown follow-up step")
	ErrEmptyInput       = errors.New("input cannot be empty")
	ErrInputTooShort    = errors.New("input is too short")
	ErrInputTooLong     = errors.New("input exceeds maximum length")
	ErrGibberish        = errors.New("input does not look like real text")
	ErrProfanity        = errors.New("input contains inappropriate language")
	ErrInvalidName      = errors.New("name may only contain letters, spaces, hyphens, and apostrophes")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidPref      = errors.New("invalid contact preference")
	ErrWrongPhase       = errors.New("operation not valid in current phase")

	ErrRateLimitExceeded = errors.New("question budget exhausted")

	ErrNoCodeFound     = errors.New("no verification code found")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrCodeMismatch    = errors.New("verification code does not match")
	ErrTooManyAttempts = errors.New("too many failed verification attempts")

	ErrUpstream = errors.New("upstream service unavailable")
)

// IssueTags lists the selectable issue tags presented in the intake phase.
var IssueTags = []string{
	"balance_due",
	"unfiled_returns",
	"garnishment",
	"lien",
	"audit",
	"irs_notice",
}

// IsValidIssueTag checks whether tag is one of the selectable issues.
func IsValidIssueTag(tag string) bool {
	for _, t := range IssueTags {
		if t == tag {
			return true
		}
	}
	return false
}

// BalanceBandHigh is the answer value that marks a high-value lead.
const BalanceBandHigh = "gt50k"

// IntakeForm is the mutable record accumulated across phases. Fields belonging
// to a later phase stay zero until that phase is reached.
type IntakeForm struct {
	Issues            []string          `json:"issues,omitempty"`
	Answers           map[string]string `json:"answers,omitempty"`
	Question          string            `json:"question,omitempty"`
	QuestionAnswer    string            `json:"question_answer,omitempty"`
	Name              string            `json:"name,omitempty"`
	ContactPreference ContactPreference `json:"contact_preference,omitempty"`
	Email             string            `json:"email,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	EmailVerified     bool              `json:"email_verified,omitempty"`
	PhoneVerified     bool              `json:"phone_verified,omitempty"`
}

// HasIssue reports whether the form's issue set contains tag.
func (f *IntakeForm) HasIssue(tag string) bool {
	for _, t := range f.Issues {
		if t == tag {
			return true
		}
	}
	return false
}

// RequiredChannels returns the channels that must verify before Done,
// in collection order (email before phone for the both preference).
func (f *IntakeForm) RequiredChannels() []Channel {
	switch f.ContactPreference {
	case ContactPreferenceEmail:
		return []Channel{ChannelEmail}
	case ContactPreferencePhone:
		return []Channel{ChannelPhone}
	case ContactPreferenceBoth:
		return []Channel{ChannelEmail, ChannelPhone}
	default:
		return nil
	}
}

// AllRequiredVerified reports whether every required channel has verified.
func (f *IntakeForm) AllRequiredVerified() bool {
	channels := f.RequiredChannels()
	if len(channels) == 0 {
		return false
	}
	for _, ch := range channels {
		switch ch {
		case ChannelEmail:
			if !f.EmailVerified {
				return false
			}
		case ChannelPhone:
			if !f.PhoneVerified {
				return false
			}
		}
	}
	return true
}

// PrimaryIdentifier returns the dedup key for this form: email first, phone
// second, empty when neither was captured.
func (f *IntakeForm) PrimaryIdentifier() string {
	if f.Email != "" {
		return ContactIdentifier(ChannelEmail, f.Email)
	}
	if f.Phone != "" {
		return ContactIdentifier(ChannelPhone, f.Phone)
	}
	return ""
}

// ConversationMessage is one entry of the visitor-facing transcript.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxSnapshotBytes bounds the serialized snapshot before signing.
const MaxSnapshotBytes = 16 * 1024

// ProgressSnapshot is the client-held copy of the in-flight form. It is the
// only source of truth for resuming or reconstructing a session.
type ProgressSnapshot struct {
	SessionID string                `json:"session_id"`
	Form      IntakeForm            `json:"form"`
	LastPhase Phase                 `json:"last_phase"`
	StepIndex int                   `json:"step_index,omitempty"` // position in the active follow-up list
	History   []ConversationMessage `json:"history,omitempty"`
	StartedAt time.Time             `json:"started_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// AppendHistory adds a transcript entry, trimming to the configured bounds.
// Truncation never splits a multi-byte rune.
func (s *ProgressSnapshot) AppendHistory(role, content string) {
	if len(content) > MaxHistoryMessageLength {
		cut := MaxHistoryMessageLength
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	s.History = append(s.History, ConversationMessage{Role: role, Content: content, Timestamp: time.Now()})
	if len(s.History) > MaxHistoryMessages {
		s.History = s.History[len(s.History)-MaxHistoryMessages:]
	}
}

// RateLimitWindow tracks the free-text question budget for one visitor.
// Count resets to zero exactly when now passes ResetAt; ResetAt is computed
// once per window, not on every request within it.
type RateLimitWindow struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// OTPRecord holds one issued verification code. Exactly one live record may
// exist per normalized contact identifier.
type OTPRecord struct {
	Identifier string    `json:"identifier"`
	Code       string    `json:"code"`
	Channel    Channel   `json:"channel"`
	CreatedAt  time.Time `json:"created_at"`
	Verified   bool      `json:"verified"`
	Attempts   int       `json:"attempts"`
}

// Expired reports whether the record is past its TTL at the given time.
func (r *OTPRecord) Expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > CodeTTL
}

// SubmitResult is the structured outcome of every phase-keyed operation.
// Validation failures are local and non-fatal; ErrorReason carries the
// specific reason code for re-presentation.
type SubmitResult struct {
	OK          bool   `json:"ok"`
	NextPhase   Phase  `json:"next_phase"`
	Prompt      string `json:"prompt,omitempty"`
	Answer      string `json:"answer,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
}
