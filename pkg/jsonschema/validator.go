// Package jsonschema compiles JSON schemas once and validates documents
// against them. It is used for both test configuration files and response
// body checks.
package jsonschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Violation is a single schema violation at a JSON pointer location.
type Violation struct {
	Location string
	Message  string
}

func (v Violation) Error() string {
	loc := v.Location
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, v.Message)
}

// ValidationErrors represents a collection of schema violations
type ValidationErrors []Violation

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	parts := make([]string, 0, len(ve))
	for _, v := range ve {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

// Schema is a compiled schema. It is safe for concurrent use.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// Compile parses and compiles a schema document. name is used as the
// resource URL and shows up in error messages.
func Compile(name, schemaStr string) (*Schema, error) {
	if name == "" {
		name = "schema.json"
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// Validate checks an already-decoded JSON document (as produced by
// encoding/json into interface{}). It returns nil when the document is valid,
// ValidationErrors when it violates the schema.
func (s *Schema) Validate(doc interface{}) error {
	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		violations := leafViolations(verr)
		if len(violations) == 0 {
			violations = ValidationErrors{{Location: verr.InstanceLocation, Message: verr.Message}}
		}
		return violations
	}
	return err
}

// ValidateJSON decodes raw JSON and validates it.
func (s *Schema) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return s.Validate(doc)
}

// Validate validates a JSON string against a JSON Schema.
// Returns true if the JSON is valid. Schema or JSON parse problems are
// returned as errors.
func Validate(jsonStr, schemaStr string) (bool, error) {
	valid, errs := ValidateWithErrors(jsonStr, schemaStr)
	if valid {
		return true, nil
	}
	var ve ValidationErrors
	if errors.As(errs, &ve) {
		return false, nil
	}
	return false, errs
}

// ValidateWithErrors is like Validate but returns the violations found.
func ValidateWithErrors(jsonStr, schemaStr string) (bool, error) {
	schema, err := Compile("schema.json", schemaStr)
	if err != nil {
		return false, err
	}
	if err := schema.ValidateJSON([]byte(jsonStr)); err != nil {
		return false, err
	}
	return true, nil
}

// leafViolations flattens the cause tree down to the errors that carry
// the actual reason; intermediate nodes only say "doesn't validate with".
func leafViolations(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{{Location: err.InstanceLocation, Message: err.Message}}
	}
	var out ValidationErrors
	for _, cause := range err.Causes {
		out = append(out, leafViolations(cause)...)
	}
	return out
}
