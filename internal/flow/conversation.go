// Package flow provides the phase-keyed operations the hosting UI invokes.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/ratelimit"
	"github.com/leadqualifier/leadqualifier/internal/util"
)

// QuestionAnswerer answers the visitor's one free-text question.
type QuestionAnswerer interface {
	Ask(ctx context.Context, question string) (string, error)
}

// CodeManager issues and validates one-time verification codes. Pending
// reports whether a live unverified code exists for the contact value.
type CodeManager interface {
	Issue(ctx context.Context, channel models.Channel, value string) error
	Verify(channel models.Channel, value, submitted string) error
	Pending(channel models.Channel, value string) bool
}

// LeadFinalizer hands a fully verified form to the downstream CRM.
type LeadFinalizer interface {
	CreateLead(ctx context.Context, form models.IntakeForm) (string, error)
}

// FollowupFlagger durably flags a verified lead whose CRM handoff failed so
// it can be worked manually. It must not fail silently with data loss.
type FollowupFlagger interface {
	FlagNeedsFollowup(ctx context.Context, snapshot models.ProgressSnapshot) error
}

// Visitor-facing prompts, keyed by what the machine asks next.
const (
	promptIssues        = "What brings you here today? Select all that apply: balance_due, unfiled_returns, garnishment, lien, audit, irs_notice."
	promptQuestion      = "You can ask one question about your situation and I'll answer it."
	promptName          = "Thanks. What name should we use for you?"
	promptContactOffer  = "How should a specialist reach you: email, phone, or both?"
	promptEmail         = "What's your email address?"
	promptPhone         = "What's your phone number? Include the country code, e.g. +15551234567."
	promptVerification  = "We sent a 6-digit code to each contact you provided. Enter it here to confirm."
	promptDone          = "You're all set. A specialist will reach out shortly."
	promptRetryUpstream = "Something went wrong on our side. Please try again in a moment."
)

// Conversation enforces phase ordering and produces the next prompt. All
// per-visitor state lives in the snapshot the caller passes in; the struct
// itself holds only shared collaborators and is safe for concurrent use
// across visitors.
type Conversation struct {
	limiter  *ratelimit.Limiter
	codes    CodeManager
	answerer QuestionAnswerer
	crm      LeadFinalizer
	flagger  FollowupFlagger
}

// NewConversation wires the state machine to its collaborators.
func NewConversation(limiter *ratelimit.Limiter, codes CodeManager, answerer QuestionAnswerer, crm LeadFinalizer, flagger FollowupFlagger) *Conversation {
	slog.Debug("Creating Conversation",
		"codes_set", codes != nil, "answerer_set", answerer != nil,
		"crm_set", crm != nil, "flagger_set", flagger != nil)
	return &Conversation{
		limiter:  limiter,
		codes:    codes,
		answerer: answerer,
		crm:      crm,
		flagger:  flagger,
	}
}

// Start initializes a fresh session snapshot and returns the opening prompt.
func (c *Conversation) Start(s *models.ProgressSnapshot) models.SubmitResult {
	now := time.Now()
	s.SessionID = util.GenerateRandomID("s_", 32)
	s.LastPhase = models.PhaseIntakeIssues
	s.StartedAt = now
	s.UpdatedAt = now
	s.Form = models.IntakeForm{}
	s.AppendHistory("assistant", promptIssues)
	slog.Info("Conversation.Start: session opened", "session_id", s.SessionID)
	return ok(s, promptIssues)
}

// Resume re-presents the prompt for the snapshot's current phase. A visitor
// returning to Verification whose code expired or locked out gets a fresh code
// for each channel still awaiting one, so the phase is never a dead end.
func (c *Conversation) Resume(ctx context.Context, s *models.ProgressSnapshot) models.SubmitResult {
	slog.Debug("Conversation.Resume", "session_id", s.SessionID, "phase", s.LastPhase)
	if s.LastPhase == models.PhaseVerification {
		for _, ch := range s.Form.RequiredChannels() {
			target, verified := s.Form.Email, s.Form.EmailVerified
			if ch == models.ChannelPhone {
				target, verified = s.Form.Phone, s.Form.PhoneVerified
			}
			if verified || c.codes.Pending(ch, target) {
				continue
			}
			if err := c.codes.Issue(ctx, ch, target); err != nil {
				slog.Error("Conversation.Resume: code re-issue failed", "error", err, "session_id", s.SessionID, "channel", ch)
				return fail(s, models.ErrUpstream)
			}
			slog.Info("Conversation.Resume: code re-issued", "session_id", s.SessionID, "channel", ch)
		}
	}
	return ok(s, c.promptFor(s))
}

// SubmitIssues records the selected issue tags and advances to the follow-up
// questions, or straight to the free-text question if none apply.
func (c *Conversation) SubmitIssues(s *models.ProgressSnapshot, selected []string) models.SubmitResult {
	if s.LastPhase != models.PhaseIntakeIssues {
		return fail(s, models.ErrWrongPhase)
	}
	deduped := dedupeTags(selected)
	if len(deduped) == 0 {
		return fail(s, models.ErrNoIssuesSelected)
	}
	if len(deduped) > models.MaxIssueSelections {
		return fail(s, models.ErrInputTooLong)
	}
	for _, tag := range deduped {
		if !models.IsValidIssueTag(tag) {
			slog.Warn("Conversation.SubmitIssues: unknown tag", "session_id", s.SessionID, "tag", tag)
			return fail(s, models.ErrUnknownIssueTag)
		}
	}

	s.Form.Issues = deduped
	s.AppendHistory("user", strings.Join(deduped, ", "))
	c.touch(s)

	if step, found := NextStep(&s.Form); found {
		s.LastPhase = models.PhaseIntakeQuestions
		s.AppendHistory("assistant", step.Prompt)
		slog.Info("Conversation.SubmitIssues: advancing to follow-ups", "session_id", s.SessionID, "issues", deduped)
		return ok(s, step.Prompt)
	}
	s.LastPhase = models.PhaseQuestion
	s.AppendHistory("assistant", promptQuestion)
	slog.Info("Conversation.SubmitIssues: no follow-ups apply", "session_id", s.SessionID, "issues", deduped)
	return ok(s, promptQuestion)
}

// AnswerStep stores one follow-up answer, recomputes the active step list,
// and advances to the next unanswered step or to the question phase.
func (c *Conversation) AnswerStep(s *models.ProgressSnapshot, key, value string) models.SubmitResult {
	if s.LastPhase != models.PhaseIntakeQuestions {
		return fail(s, models.ErrWrongPhase)
	}
	if !IsActiveStep(&s.Form, key) {
		slog.Warn("Conversation.AnswerStep: inactive step", "session_id", s.SessionID, "key", key)
		return fail(s, models.ErrUnknownStepKey)
	}
	if err := ValidateStepAnswer(value); err != nil {
		return fail(s, err)
	}

	if s.Form.Answers == nil {
		s.Form.Answers = make(map[string]string)
	}
	s.Form.Answers[key] = strings.TrimSpace(value)
	s.AppendHistory("user", value)
	c.touch(s)

	// The answer may have activated steps that did not apply before.
	if step, found := NextStep(&s.Form); found {
		s.AppendHistory("assistant", step.Prompt)
		return ok(s, step.Prompt)
	}
	s.LastPhase = models.PhaseQuestion
	s.AppendHistory("assistant", promptQuestion)
	slog.Info("Conversation.AnswerStep: follow-ups exhausted", "session_id", s.SessionID)
	return ok(s, promptQuestion)
}

// SubmitQuestion validates the free-text question, checks the budget, invokes
// the question-answering collaborator, and advances to the name phase. The
// budget is spent only on success; an exhausted budget never reaches the
// collaborator.
func (c *Conversation) SubmitQuestion(ctx context.Context, s *models.ProgressSnapshot, w *models.RateLimitWindow, text string) models.SubmitResult {
	if s.LastPhase != models.PhaseQuestion {
		return fail(s, models.ErrWrongPhase)
	}
	if err := ValidateQuestion(text); err != nil {
		return fail(s, err)
	}
	if err := c.limiter.Check(w); err != nil {
		return fail(s, err)
	}

	answer, err := c.answerer.Ask(ctx, strings.TrimSpace(text))
	if err != nil {
		slog.Error("Conversation.SubmitQuestion: answering failed", "error", err, "session_id", s.SessionID)
		return fail(s, models.ErrUpstream)
	}
	if err := c.limiter.Consume(w); err != nil {
		// Check passed moments ago; a concurrent duplicate spent the budget.
		return fail(s, err)
	}

	s.Form.Question = strings.TrimSpace(text)
	s.Form.QuestionAnswer = answer
	s.AppendHistory("user", text)
	s.AppendHistory("assistant", answer)
	s.LastPhase = models.PhaseName
	c.touch(s)
	slog.Info("Conversation.SubmitQuestion: answered", "session_id", s.SessionID, "budget_used", w.Count)

	r := ok(s, promptName)
	r.Answer = answer
	return r
}

// SubmitName validates and stores the display name.
func (c *Conversation) SubmitName(s *models.ProgressSnapshot, name string) models.SubmitResult {
	if s.LastPhase != models.PhaseName {
		return fail(s, models.ErrWrongPhase)
	}
	if err := ValidateName(name); err != nil {
		return fail(s, err)
	}
	s.Form.Name = strings.TrimSpace(name)
	s.AppendHistory("user", name)
	s.LastPhase = models.PhaseContactOffer
	s.AppendHistory("assistant", promptContactOffer)
	c.touch(s)
	return ok(s, promptContactOffer)
}

// ChooseContactPreference records which channels the visitor wants and
// advances to contact capture with the first channel's prompt.
func (c *Conversation) ChooseContactPreference(s *models.ProgressSnapshot, pref models.ContactPreference) models.SubmitResult {
	if s.LastPhase != models.PhaseContactOffer {
		return fail(s, models.ErrWrongPhase)
	}
	if !models.IsValidContactPreference(pref) {
		return fail(s, models.ErrInvalidPref)
	}
	s.Form.ContactPreference = pref
	s.AppendHistory("user", string(pref))
	s.LastPhase = models.PhaseContactDetails

	prompt := promptEmail
	if pref == models.ContactPreferencePhone {
		prompt = promptPhone
	}
	s.AppendHistory("assistant", prompt)
	c.touch(s)
	slog.Info("Conversation.ChooseContactPreference", "session_id", s.SessionID, "preference", pref)
	return ok(s, prompt)
}

// SubmitContactDetail validates and stores the channel currently being
// collected (email before phone for the both preference). Once every required
// channel is captured it issues the codes and advances to verification.
func (c *Conversation) SubmitContactDetail(ctx context.Context, s *models.ProgressSnapshot, value string) models.SubmitResult {
	if s.LastPhase != models.PhaseContactDetails {
		return fail(s, models.ErrWrongPhase)
	}
	channel, done := c.collectingChannel(&s.Form)
	if done {
		return fail(s, models.ErrWrongPhase)
	}

	value = strings.TrimSpace(value)
	switch channel {
	case models.ChannelEmail:
		if err := ValidateEmail(value); err != nil {
			return fail(s, err)
		}
		s.Form.Email = value
	case models.ChannelPhone:
		if err := ValidatePhone(value); err != nil {
			return fail(s, err)
		}
		s.Form.Phone = value
	}
	s.AppendHistory("user", value)
	c.touch(s)

	if next, done := c.collectingChannel(&s.Form); !done {
		if next == models.ChannelPhone {
			s.AppendHistory("assistant", promptPhone)
			return ok(s, promptPhone)
		}
		return ok(s, promptEmail)
	}

	// All required channels captured: issue a code per channel, then move to
	// verification. A delivery failure keeps the phase so the visitor can
	// resubmit and trigger a fresh issue.
	for _, ch := range s.Form.RequiredChannels() {
		target := s.Form.Email
		if ch == models.ChannelPhone {
			target = s.Form.Phone
		}
		if err := c.codes.Issue(ctx, ch, target); err != nil {
			slog.Error("Conversation.SubmitContactDetail: code issue failed", "error", err, "session_id", s.SessionID, "channel", ch)
			return fail(s, models.ErrUpstream)
		}
	}
	s.LastPhase = models.PhaseVerification
	s.AppendHistory("assistant", promptVerification)
	c.touch(s)
	slog.Info("Conversation.SubmitContactDetail: codes issued", "session_id", s.SessionID, "preference", s.Form.ContactPreference)
	return ok(s, promptVerification)
}

// SubmitVerification validates the submitted code(s). Every required channel
// must verify independently before the lead finalizes; partial verification
// keeps the phase with the specific failure reason.
func (c *Conversation) SubmitVerification(ctx context.Context, s *models.ProgressSnapshot, emailCode, phoneCode string) models.SubmitResult {
	if s.LastPhase != models.PhaseVerification {
		return fail(s, models.ErrWrongPhase)
	}

	for _, ch := range s.Form.RequiredChannels() {
		switch ch {
		case models.ChannelEmail:
			if s.Form.EmailVerified {
				continue
			}
			if err := c.codes.Verify(models.ChannelEmail, s.Form.Email, strings.TrimSpace(emailCode)); err != nil {
				return fail(s, err)
			}
			s.Form.EmailVerified = true
			c.touch(s)
		case models.ChannelPhone:
			if s.Form.PhoneVerified {
				continue
			}
			if err := c.codes.Verify(models.ChannelPhone, s.Form.Phone, strings.TrimSpace(phoneCode)); err != nil {
				return fail(s, err)
			}
			s.Form.PhoneVerified = true
			c.touch(s)
		}
	}

	if !s.Form.AllRequiredVerified() {
		return fail(s, models.ErrNoCodeFound)
	}
	return c.finalize(ctx, s)
}

// finalize hands the verified lead to the CRM exactly once and closes the
// conversation. A handoff failure must not strand a verified visitor: the
// phase still becomes Done and the lead is flagged for manual follow-up.
func (c *Conversation) finalize(ctx context.Context, s *models.ProgressSnapshot) models.SubmitResult {
	caseID, err := c.crm.CreateLead(ctx, s.Form)
	if err != nil {
		slog.Error("Conversation.finalize: CRM handoff failed, flagging for manual follow-up", "error", err, "session_id", s.SessionID)
		if flagErr := c.flagger.FlagNeedsFollowup(ctx, *s); flagErr != nil {
			slog.Error("Conversation.finalize: followup flag also failed", "error", flagErr, "session_id", s.SessionID)
		}
	} else {
		slog.Info("Conversation.finalize: lead created", "session_id", s.SessionID, "case_id", caseID)
	}
	s.LastPhase = models.PhaseDone
	s.AppendHistory("assistant", promptDone)
	c.touch(s)
	return ok(s, promptDone)
}

// collectingChannel reports which channel contact capture wants next.
func (c *Conversation) collectingChannel(f *models.IntakeForm) (models.Channel, bool) {
	for _, ch := range f.RequiredChannels() {
		switch ch {
		case models.ChannelEmail:
			if f.Email == "" {
				return models.ChannelEmail, false
			}
		case models.ChannelPhone:
			if f.Phone == "" {
				return models.ChannelPhone, false
			}
		}
	}
	return "", true
}

// promptFor reproduces the prompt for the snapshot's current phase.
func (c *Conversation) promptFor(s *models.ProgressSnapshot) string {
	switch s.LastPhase {
	case models.PhaseIntakeIssues:
		return promptIssues
	case models.PhaseIntakeQuestions:
		if step, found := NextStep(&s.Form); found {
			return step.Prompt
		}
		return promptQuestion
	case models.PhaseQuestion:
		return promptQuestion
	case models.PhaseName:
		return promptName
	case models.PhaseContactOffer:
		return promptContactOffer
	case models.PhaseContactDetails:
		if ch, done := c.collectingChannel(&s.Form); !done && ch == models.ChannelPhone {
			return promptPhone
		}
		return promptEmail
	case models.PhaseVerification:
		return promptVerification
	case models.PhaseDone:
		return promptDone
	default:
		return promptIssues
	}
}

func (c *Conversation) touch(s *models.ProgressSnapshot) {
	s.UpdatedAt = time.Now()
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ok builds a success result for the snapshot's (possibly advanced) phase.
func ok(s *models.ProgressSnapshot, prompt string) models.SubmitResult {
	return models.SubmitResult{OK: true, NextPhase: s.LastPhase, Prompt: prompt}
}

// fail builds a failure result. No phase transition happens on failure; the
// reason code tells the UI what to re-present.
func fail(s *models.ProgressSnapshot, err error) models.SubmitResult {
	r := models.SubmitResult{OK: false, NextPhase: s.LastPhase, ErrorReason: ReasonCode(err)}
	if errors.Is(err, models.ErrUpstream) {
		r.Prompt = promptRetryUpstream
	}
	return r
}

// ReasonCode maps the error taxonomy to the stable codes surfaced to the UI.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, models.ErrNoIssuesSelected):
		return "select_at_least_one"
	case errors.Is(err, models.ErrUnknownIssueTag):
		return "unknown_issue"
	case errors.Is(err, models.ErrUnknownStepKey):
		return "unknown_step"
	case errors.Is(err, models.ErrEmptyInput):
		return "empty"
	case errors.Is(err, models.ErrInputTooShort):
		return "too_short"
	case errors.Is(err, models.ErrInputTooLong):
		return "too_long"
	case errors.Is(err, models.ErrGibberish):
		return "gibberish"
	case errors.Is(err, models.ErrProfanity):
		return "profanity"
	case errors.Is(err, models.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, models.ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, models.ErrInvalidPhone):
		return "invalid_phone"
	case errors.Is(err, models.ErrInvalidPref):
		return "invalid_preference"
	case errors.Is(err, models.ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, models.ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.Is(err, models.ErrNoCodeFound):
		return "no_code_found"
	case errors.Is(err, models.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, models.ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, models.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, models.ErrUpstream):
		return "upstream_error"
	default:
		return "internal_error"
	}
}
