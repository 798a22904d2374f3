package flow

import (
	"testing"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

func TestActiveStepsForBalanceIssues(t *testing.T) {
	f := models.IntakeForm{Issues: []string{"balance_due"}}
	keys := stepKeys(ActiveSteps(&f))
	want := []string{"balanceBand", "taxScope", "filerType"}
	if !equalKeys(keys, want) {
		t.Errorf("active steps = %v, want %v", keys, want)
	}
}

func TestActiveStepsForUnfiled(t *testing.T) {
	f := models.IntakeForm{Issues: []string{"unfiled_returns"}}
	keys := stepKeys(ActiveSteps(&f))
	want := []string{"unfiledYears", "taxScope", "filerType"}
	if !equalKeys(keys, want) {
		t.Errorf("active steps = %v, want %v", keys, want)
	}
}

func TestBusinessAnswerActivatesStep(t *testing.T) {
	f := models.IntakeForm{
		Issues:  []string{"audit"},
		Answers: map[string]string{"taxScope": "federal", "filerType": "business"},
	}
	if !IsActiveStep(&f, "businessType") {
		t.Fatal("businessType should activate for business filers")
	}
	step, found := NextStep(&f)
	if !found || step.Key != "businessType" {
		t.Errorf("NextStep = %v/%v, want businessType", step.Key, found)
	}
}

func TestNextStepSkipsAnswered(t *testing.T) {
	f := models.IntakeForm{
		Issues:  []string{"balance_due"},
		Answers: map[string]string{"balanceBand": "gt50k"},
	}
	step, found := NextStep(&f)
	if !found || step.Key != "taxScope" {
		t.Errorf("NextStep = %v/%v, want taxScope", step.Key, found)
	}
}

func TestNextStepExhausted(t *testing.T) {
	f := models.IntakeForm{
		Issues: []string{"audit"},
		Answers: map[string]string{
			"taxScope": "federal", "filerType": "individual",
		},
	}
	if _, found := NextStep(&f); found {
		t.Error("all active steps answered; NextStep should report exhaustion")
	}
}

func stepKeys(steps []FollowUpStep) []string {
	keys := make([]string, len(steps))
	for i, s := range steps {
		keys[i] = s.Key
	}
	return keys
}

func equalKeys(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
