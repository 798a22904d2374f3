// Package flow implements the dialogue state machine driving the intake conversation.
package flow

import (
	"github.com/leadqualifier/leadqualifier/internal/models"
)

// FollowUpStep is one conditional intake question. The step list is data, not
// states: which steps apply is recomputed against the accumulated form after
// every answer, so a later answer can activate a step that was skipped earlier.
type FollowUpStep struct {
	Key     string
	Prompt  string
	Applies func(f *models.IntakeForm) bool
}

// followUpSteps is the ordered list of candidate intake questions.
var followUpSteps = []FollowUpStep{
	{
		Key:    "balanceBand",
		Prompt: "Roughly how much do you owe? (lt10k, 10k_50k, gt50k)",
		Applies: func(f *models.IntakeForm) bool {
			return f.HasIssue("balance_due") || f.HasIssue("garnishment") || f.HasIssue("lien")
		},
	},
	{
		Key:    "unfiledYears",
		Prompt: "How many years of returns are unfiled? (one, two_to_five, more_than_five)",
		Applies: func(f *models.IntakeForm) bool {
			return f.HasIssue("unfiled_returns")
		},
	},
	{
		Key:     "taxScope",
		Prompt:  "Is this federal, state, or both? (federal, state, both)",
		Applies: func(f *models.IntakeForm) bool { return true },
	},
	{
		Key:     "filerType",
		Prompt:  "Is this for you personally or a business? (individual, business)",
		Applies: func(f *models.IntakeForm) bool { return true },
	},
	{
		Key:    "businessType",
		Prompt: "What kind of business? (sole_prop, llc, corporation, partnership)",
		Applies: func(f *models.IntakeForm) bool {
			return f.Answers["filerType"] == "business"
		},
	},
}

// ActiveSteps evaluates every predicate against the current form and returns
// the steps that apply right now, in declaration order.
func ActiveSteps(f *models.IntakeForm) []FollowUpStep {
	var active []FollowUpStep
	for _, step := range followUpSteps {
		if step.Applies(f) {
			active = append(active, step)
		}
	}
	return active
}

// NextStep returns the first active step the form has no answer for yet.
func NextStep(f *models.IntakeForm) (FollowUpStep, bool) {
	for _, step := range ActiveSteps(f) {
		if _, answered := f.Answers[step.Key]; !answered {
			return step, true
		}
	}
	return FollowUpStep{}, false
}

// IsActiveStep reports whether key names a step that currently applies.
func IsActiveStep(f *models.IntakeForm, key string) bool {
	for _, step := range ActiveSteps(f) {
		if step.Key == key {
			return true
		}
	}
	return false
}
