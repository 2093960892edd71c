package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldViolation describes one rejected input field.
type FieldViolation struct {
	Field   string `json:"field"   example:"pageSize"`
	Rule    string `json:"rule"    example:"max"`
	Message string `json:"message" example:"must be at most 50"`
}

// ValidationError is returned for malformed or out-of-range filters.
// It is client-caused: never retried, never cached.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "invalid filter: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, rule, msg string) *ValidationError {
	return &ValidationError{Violations: []FieldViolation{{Field: field, Rule: rule, Message: msg}}}
}

func fromValidator(err error) []FieldViolation {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []FieldViolation{{Field: "body", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]FieldViolation, 0, len(ves))
	for _, fe := range ves {
		out = append(out, FieldViolation{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return fmt.Sprintf("must contain exactly %s values", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}
