package validation

import (
	"strings"
	"testing"

	"github.com/kbukum/blockflow/errors"
)

func TestValidator_Checks(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Validator) *Validator
		fails bool
	}{
		{"required ok", func(v *Validator) *Validator { return v.Required("name", "etl") }, false},
		{"required blank", func(v *Validator) *Validator { return v.Required("name", "  ") }, true},
		{"one of ok", func(v *Validator) *Validator { return v.OneOf("strategy", "sequential", []string{"concurrent", "sequential"}) }, false},
		{"one of empty skipped", func(v *Validator) *Validator { return v.OneOf("strategy", "", []string{"concurrent"}) }, false},
		{"one of unknown", func(v *Validator) *Validator { return v.OneOf("strategy", "random", []string{"concurrent"}) }, true},
		{"min ok", func(v *Validator) *Validator { return v.Min("max_parallel", 1, 1) }, false},
		{"min below", func(v *Validator) *Validator { return v.Min("max_parallel", 0, 1) }, true},
		{"custom true", func(v *Validator) *Validator { return v.Custom(true, "type", "unknown") }, false},
		{"custom false", func(v *Validator) *Validator { return v.Custom(false, "type", "unknown") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(New()).HasErrors(); got != tt.fails {
				t.Errorf("HasErrors() = %v, want %v", got, tt.fails)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	if New().Required("uuid", "a").Validate() != nil {
		t.Error("expected nil when every check passes")
	}

	appErr := New().
		Identifier("uuid", "Bad Block").
		Custom(false, "type", "unknown block type widget").
		Validate()
	if appErr == nil {
		t.Fatal("expected an error")
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "uuid: must be a lowercase identifier; type: unknown block type widget") {
		t.Errorf("unexpected message %q", appErr.Message)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok || len(fields) != 2 || fields[1].Field != "type" {
		t.Errorf("unexpected fields detail %v", appErr.Details["fields"])
	}
}

func TestStructValidateValid(t *testing.T) {
	type BlockDoc struct {
		UUID string `yaml:"uuid" validate:"required,identifier"`
		Type string `yaml:"type" validate:"required,oneof=loader transformer exporter"`
	}

	err := Validate(BlockDoc{UUID: "load_data", Type: "loader"})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestStructValidateInvalid(t *testing.T) {
	type BlockDoc struct {
		UUID string `yaml:"uuid" validate:"required,identifier"`
		Type string `yaml:"type" validate:"required"`
	}

	err := Validate(BlockDoc{UUID: "Not Valid", Type: ""})
	if err == nil {
		t.Fatal("expected validation error")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "uuid") || !strings.Contains(errStr, "type") {
		t.Errorf("expected error to mention yaml field names, got %q", errStr)
	}
	if !strings.Contains(errStr, "lowercase identifier") {
		t.Errorf("expected identifier message, got %q", errStr)
	}
}

func TestStructValidateNestedPath(t *testing.T) {
	type Block struct {
		UUID string `yaml:"uuid" validate:"required"`
	}
	type Doc struct {
		Blocks []Block `yaml:"blocks" validate:"dive"`
	}

	err := Validate(Doc{Blocks: []Block{{UUID: "a"}, {UUID: ""}}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "blocks[1].uuid") {
		t.Errorf("expected nested field path, got %q", err.Error())
	}
}

func TestStructValidateMaxMin(t *testing.T) {
	type Input struct {
		Code     string `json:"code" validate:"required,min=3,max=10"`
		Parallel int    `json:"parallel" validate:"gte=1"`
	}

	if err := Validate(Input{Code: "abc", Parallel: 1}); err != nil {
		t.Errorf("expected valid, got %v", err)
	}

	if err := Validate(Input{Code: "ab", Parallel: 1}); err == nil {
		t.Error("expected error for code too short")
	}

	err := Validate(Input{Code: "abc", Parallel: 0})
	if err == nil || !strings.Contains(err.Error(), "parallel: must be at least 1") {
		t.Errorf("expected numeric bound message, got %v", err)
	}
}

func TestIsIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"load_data", true},
		{"block-2.v1", true},
		{"child:0", true},
		{"child:controller", true},
		{"Load Data", false},
		{"", false},
		{":0", false},
	}
	for _, tt := range tests {
		if got := IsIdentifier(tt.in); got != tt.want {
			t.Errorf("IsIdentifier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidatorIdentifier(t *testing.T) {
	if New().Identifier("uuid", "ok_block").HasErrors() {
		t.Error("expected valid identifier")
	}
	if !New().Identifier("uuid", "").HasErrors() {
		t.Error("expected error for empty identifier")
	}
	if !New().Identifier("uuid", "Bad Block").HasErrors() {
		t.Error("expected error for invalid identifier")
	}
}
