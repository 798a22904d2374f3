// Package flow provides content validation for visitor-supplied text.
package flow

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

var (
	// ITU-T E.164: plus sign, country code, 8-15 digits total.
	e164Regexp = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	nameRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z '\-]*$`)
)

// profanityList covers the common cases; matching is on word boundaries so
// "assessment" and similar words pass.
var profanityList = []string{
	"fuck", "shit", "bitch", "asshole", "bastard", "cunt", "dick", "piss",
}

var wordRegexp = regexp.MustCompile(`[a-z']+`)

// ValidateQuestion checks the free-text question: non-empty, length bounds,
// gibberish heuristic, profanity. Pure function, no side effects.
func ValidateQuestion(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ErrEmptyInput
	}
	if len(text) < models.MinQuestionLength {
		return models.ErrInputTooShort
	}
	if len(text) > models.MaxQuestionLength {
		return models.ErrInputTooLong
	}
	if containsProfanity(text) {
		return models.ErrProfanity
	}
	if looksGibberish(text) {
		return models.ErrGibberish
	}
	return nil
}

// ValidateName checks the display name: letters, spaces, hyphens, apostrophes
// only, plus the gibberish heuristic.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ErrEmptyInput
	}
	if len(name) > models.MaxNameLength {
		return models.ErrInputTooLong
	}
	if !nameRegexp.MatchString(name) {
		return models.ErrInvalidName
	}
	if looksGibberish(name) {
		return models.ErrGibberish
	}
	return nil
}

// ValidateEmail checks RFC 5322 address syntax via net/mail.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return models.ErrEmptyInput
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return models.ErrInvalidEmail
	}
	return nil
}

// ValidatePhone checks E.164 format.
func ValidatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.ErrEmptyInput
	}
	if !e164Regexp.MatchString(phone) {
		return models.ErrInvalidPhone
	}
	return nil
}

// ValidateStepAnswer checks a follow-up answer: non-empty and bounded.
func ValidateStepAnswer(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.ErrEmptyInput
	}
	if len(value) > models.MaxAnswerLength {
		return models.ErrInputTooLong
	}
	return nil
}

func containsProfanity(text string) bool {
	for _, word := range wordRegexp.FindAllString(strings.ToLower(text), -1) {
		for _, bad := range profanityList {
			if word == bad {
				return true
			}
		}
	}
	return false
}

// looksGibberish flags keyboard-mash input: no vowels among the letters, a
// long run of one repeated character, or a long consonant run.
func looksGibberish(text string) bool {
	letters := 0
	vowels := 0
	run := 1
	consonantRun := 0
	var prev rune

	for _, r := range strings.ToLower(text) {
		if r == prev {
			run++
			if run >= 4 {
				return true
			}
		} else {
			run = 1
		}
		prev = r

		if r >= 'a' && r <= 'z' {
			letters++
			if strings.ContainsRune("aeiouy", r) {
				vowels++
				consonantRun = 0
			} else {
				consonantRun++
				if consonantRun >= 6 {
					return true
				}
			}
		} else {
			consonantRun = 0
		}
	}
	return letters >= 4 && vowels == 0
}
