package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator checks dataset records against a JSON Schema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchemaFile reads and compiles the JSON Schema at path.
func CompileSchemaFile(path string) (*SchemaValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return compileSchema(data)
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(schemaJSON string) (*SchemaValidator, error) {
	return compileSchema([]byte(schemaJSON))
}

func compileSchema(data []byte) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// ValidateRaw validates one encoded JSON document.
func (v *SchemaValidator) ValidateRaw(raw string) error {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.ValidateValue(doc)
}

// ValidateValue validates a decoded document.
func (v *SchemaValidator) ValidateValue(doc interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema violation: %s", flattenSchemaError(err))
	}
	return nil
}

// ValidateRecord validates a record as a JSON object.
func (v *SchemaValidator) ValidateRecord(r Record) error {
	doc := make(map[string]interface{}, r.Len())
	for _, f := range r.fields {
		doc[f.Name] = f.Value.Interface()
	}
	return v.ValidateValue(doc)
}

func flattenSchemaError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
