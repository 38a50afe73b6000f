package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kbukum/blockflow/errors"
)

// Validator collects field errors for checks struct tags cannot express.
type Validator struct {
	errors []FieldError
}

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates an empty Validator.
func New() *Validator {
	return &Validator{}
}

// AddError records a failed check.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the failed checks in the order they were made.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Validate returns an INVALID_INPUT error listing every failed check, or
// nil.
func (v *Validator) Validate() *errors.AppError {
	if !v.HasErrors() {
		return nil
	}
	return fieldErrors(v.errors)
}

// Required fails on blank strings.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Identifier fails unless value is a block or pipeline identifier.
func (v *Validator) Identifier(field, value string) *Validator {
	switch {
	case strings.TrimSpace(value) == "":
		v.AddError(field, "is required")
	case !IsIdentifier(value):
		v.AddError(field, "must be a lowercase identifier")
	}
	return v
}

// OneOf fails when a non-empty value is not in allowed.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value != "" && !slices.Contains(allowed, value) {
		v.AddError(field, "must be one of: "+strings.Join(allowed, ", "))
	}
	return v
}

// Min fails when value is below minVal.
func (v *Validator) Min(field string, value, minVal int) *Validator {
	if value < minVal {
		v.AddError(field, fmt.Sprintf("must be at least %d", minVal))
	}
	return v
}

// Custom fails with message unless condition holds.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		v.AddError(field, message)
	}
	return v
}

func fieldErrors(fes []FieldError) *errors.AppError {
	messages := make([]string, len(fes))
	for i, e := range fes {
		messages[i] = e.Field + ": " + e.Message
	}
	return errors.Validation(strings.Join(messages, "; ")).WithDetail("fields", fes)
}
