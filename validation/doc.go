// Package validation validates pipeline documents, block definitions and
// engine configuration.
//
// It supports struct tag validation (go-playground/validator) and
// programmatic validation with error collection. Both return an
// *errors.AppError with code INVALID_INPUT and the offending fields in
// Details["fields"].
//
// # Struct Tag Validation
//
//	type BlockDoc struct {
//	    UUID string `yaml:"uuid" validate:"required,identifier"`
//	    Type string `yaml:"type" validate:"required"`
//	}
//	err := validation.Validate(doc)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Identifier("uuid", b.UUID).Min("max_parallel", n, 1)
//	if appErr := v.Validate(); appErr != nil { ... }
package validation
