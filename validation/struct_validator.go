package validation

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kbukum/blockflow/errors"
)

// identifierPattern matches block and pipeline identifiers: lowercase
// slugs that may carry a ":"-separated run suffix.
var identifierPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_\-.]*(:[a-zA-Z0-9_\-.:]+)?$`)

var (
	validate *validator.Validate
	once     sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Documents are YAML; prefer yaml tag names, then json, in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"yaml", "json", "mapstructure"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return toSnakeCase(fld.Name)
		})

		_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return IsIdentifier(fl.Field().String())
		})
	})
	return validate
}

// Validate validates a struct using struct tags.
// Uses tags like `validate:"required,identifier"`.
func Validate(s any) error {
	v := getValidator()
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Validation("validation failed")
	}

	fes := make([]FieldError, 0, len(validationErrors))
	for _, e := range validationErrors {
		fes = append(fes, FieldError{Field: fieldPath(e), Message: formatValidationError(e)})
	}
	return fieldErrors(fes)
}

// formatValidationError creates a human-readable error message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must be at least " + e.Param()
	case "max", "lte":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "identifier":
		return "must be a lowercase identifier"
	default:
		return "is invalid"
	}
}

// fieldPath returns the namespaced field name without the root struct name,
// e.g. "blocks[2].uuid".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

// IsIdentifier reports whether s is a valid block or pipeline identifier.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// toSnakeCase converts a field name to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteRune(r + 32) // lowercase
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
