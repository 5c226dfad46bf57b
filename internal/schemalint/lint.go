// Package schemalint provides an optional, non-blocking linter over a
// stage's declared output schema. It never runs on the executor's hot path:
// callers invoke it explicitly (e.g. from a validate-only CLI path or a
// test), and a lint failure is reported as a warning, never a pipeline error.
package schemalint

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/oxisdev/oxis/internal/envelope"
)

// Warning describes one schema mismatch found while linting a sample payload
// against a stage's declared output schema.
type Warning struct {
	Field   string
	Message string
}

// Lint compiles schema as a JSON Schema document and validates sample
// against it. A failed validation is returned as a single Warning whose
// Message holds the validator's full report (Field is left empty). A malformed
// schema document itself is returned as an error; mismatches against a
// valid schema are warnings, not errors, per the linter's non-blocking
// contract.
func Lint(schema envelope.Schema, sample any) ([]Warning, error) {
	doc := toJSONSchema(schema)

	compiler := jsonschema.NewCompiler()
	const resourceURL = "oxis://stage-output-schema.json"
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("schemalint: adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schemalint: compiling schema: %w", err)
	}

	if err := compiled.Validate(sample); err != nil {
		return []Warning{{Message: err.Error()}}, nil
	}
	return nil, nil
}

// toJSONSchema renders a Schema as a draft-2020-12 JSON Schema document
// describing an object whose declared fields must match their field type.
func toJSONSchema(schema envelope.Schema) map[string]any {
	properties := make(map[string]any, len(schema))
	var required []string

	for name, field := range schema {
		properties[name] = fieldToJSONSchema(field)
		if !field.Nullable {
			required = append(required, name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldToJSONSchema(field *envelope.FieldDescriptor) map[string]any {
	prop := map[string]any{}
	switch field.Type {
	case envelope.TypeString, envelope.TypeDateTime:
		prop["type"] = "string"
	case envelope.TypeInteger:
		prop["type"] = "integer"
	case envelope.TypeFloat:
		prop["type"] = "number"
	case envelope.TypeBoolean:
		prop["type"] = "boolean"
	case envelope.TypeBinary:
		prop["type"] = "string"
	case envelope.TypeArray:
		prop["type"] = "array"
		if field.ElementType != nil {
			prop["items"] = fieldToJSONSchema(field.ElementType)
		}
	case envelope.TypeObject:
		nested := make(map[string]any, len(field.Fields))
		for name, sub := range field.Fields {
			nested[name] = fieldToJSONSchema(sub)
		}
		prop["type"] = "object"
		prop["properties"] = nested
	default:
		// Unknown/Mixed: no type constraint, any value passes.
	}

	for _, c := range field.Constraints {
		applyConstraint(prop, c)
	}
	if field.Description != "" {
		prop["description"] = field.Description
	}
	return prop
}

func applyConstraint(prop map[string]any, c envelope.Constraint) {
	switch c.Kind {
	case envelope.ConstraintMinValue:
		prop["minimum"] = c.Value
	case envelope.ConstraintMaxValue:
		prop["maximum"] = c.Value
	case envelope.ConstraintMinLength:
		prop["minLength"] = c.Value
	case envelope.ConstraintMaxLength:
		prop["maxLength"] = c.Value
	case envelope.ConstraintPattern:
		prop["pattern"] = c.Value
	case envelope.ConstraintOneOf:
		prop["enum"] = c.Value
	}
}
