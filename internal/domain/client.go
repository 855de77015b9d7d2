package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ClientProfile holds the intake facts for a client. It is created once at
// session start and never mutated.
type ClientProfile struct {
	Age                 int    `json:"age" validate:"gte=1,lte=120"`
	Gender              string `json:"gender" validate:"notblank"`
	Mood                string `json:"mood" validate:"notblank"`
	Diagnosis           string `json:"diagnosis" validate:"notblank"`
	History             string `json:"history"`
	ReasonForCounseling string `json:"reason_for_counseling" validate:"notblank"`

	Goal                string `json:"goal,omitempty"`
	ScheduleConstraints string `json:"schedule_constraints,omitempty"`
	AdditionalNotes     string `json:"additional_notes,omitempty"`
}

var profileValidate *validator.Validate

func init() {
	profileValidate = validator.New()
	profileValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := profileValidate.RegisterValidation("notblank", validateNotBlank); err != nil {
		panic(fmt.Sprintf("domain: registering notblank validation: %v", err))
	}
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate returns a *ValidationError for the first failing field.
func (p ClientProfile) Validate() error {
	err := profileValidate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "notblank":
			return NewValidationError(fe.Field(), "is required")
		case "gte", "lte":
			return NewValidationError(fe.Field(), "must be between 1 and 120")
		default:
			return NewValidationError(fe.Field(), fmt.Sprintf("failed %q check", fe.Tag()))
		}
	}
	return NewValidationError("profile", err.Error())
}

// Context renders the profile block handed to responders and planners.
func (p ClientProfile) Context() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Age: %d\n", p.Age)
	fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
	fmt.Fprintf(&b, "History: %s\n", p.History)
	fmt.Fprintf(&b, "Mood: %s\n", p.Mood)
	fmt.Fprintf(&b, "Diagnosis: %s", p.Diagnosis)
	if p.AdditionalNotes != "" {
		fmt.Fprintf(&b, "\nAdditional Notes: %s", p.AdditionalNotes)
	}
	return b.String()
}

// ValidateMessage rejects empty or oversized client messages.
// maxChars counts runes; zero disables the size check.
func ValidateMessage(msg string, maxChars int) error {
	if !utf8.ValidString(msg) {
		return NewValidationError("message", "must be valid UTF-8")
	}
	if strings.TrimSpace(msg) == "" {
		return NewValidationError("message", "cannot be empty")
	}
	if maxChars > 0 && utf8.RuneCountInString(msg) > maxChars {
		return NewValidationError("message", fmt.Sprintf("too long (max %d characters)", maxChars))
	}
	return nil
}
