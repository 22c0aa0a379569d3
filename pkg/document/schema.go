package document

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://reportdesk.local/schemas/"

var schemaFiles = map[string]string{
	"VALUATION":        "valuation.schema.json",
	"STOCK_AUDIT":      "stock_audit.schema.json",
	"LENDERS_ENGINEER": "lenders_engineer.schema.json",
}

const genericSchema = "generic.schema.json"

// Validator checks contracts against the embedded per-report-type schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
	generic *jsonschema.Schema
}

// NewValidator compiles every embedded schema once.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("document: read schemas: %w", err)
	}
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("document: read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("document: schema load failed: %w", err)
		}
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for reportType, file := range schemaFiles {
		s, err := c.Compile(schemaBase + file)
		if err != nil {
			return nil, fmt.Errorf("document: schema compile failed for %s: %w", reportType, err)
		}
		v.schemas[reportType] = s
	}
	if v.generic, err = c.Compile(schemaBase + genericSchema); err != nil {
		return nil, fmt.Errorf("document: schema compile failed: %w", err)
	}
	return v, nil
}

// MustValidator panics if the embedded schemas do not compile.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns a *contracts.ValidationError listing every schema violation.
func (v *Validator) Validate(reportType string, t Tree) error {
	s, ok := v.schemas[strings.ToUpper(reportType)]
	if !ok {
		s = v.generic
	}
	canon, err := Canonical(t)
	if err != nil {
		return &contracts.ValidationError{Field: "contract", Detail: err.Error()}
	}
	if err := s.Validate(map[string]any(canon)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &contracts.ValidationError{
				Field:  "contract",
				Detail: "schema validation failed",
				Issues: flatten(ve),
			}
		}
		return &contracts.ValidationError{Field: "contract", Detail: err.Error()}
	}
	return nil
}

// flatten collects leaf causes as "location: message".
func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
