package plan

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/davan/docplan/pkg/execerr"
)

var (
	schemaOnce sync.Once
	schemas    map[string]*gojsonschema.Schema
	schemaErr  error
)

// compiledSchemas builds one JSON schema per canonical op, lazily and once.
func compiledSchemas() (map[string]*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemas = make(map[string]*gojsonschema.Schema, len(registry))
		for op, spec := range registry {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(opSchemaMap(spec)))
			if err != nil {
				schemaErr = fmt.Errorf("compile %s schema: %w", op, err)
				return
			}
			schemas[op] = schema
		}
	})
	return schemas, schemaErr
}

// opSchemaMap renders an OpSpec as a JSON schema document. Unknown extra
// fields pass, but required params, enums and container types are enforced.
// Scalar types accept their string spelling because models frequently quote
// numbers and booleans.
func opSchemaMap(spec OpSpec) map[string]any {
	properties := map[string]any{
		"id":            map[string]any{"type": "string"},
		"title":         map[string]any{"type": "string"},
		"op":            map[string]any{"type": "string"},
		"block_id":      map[string]any{"type": "string"},
		"freeze_cursor": map[string]any{"type": "boolean"},
	}
	required := []string{"op"}

	if spec.Nested {
		properties["actions"] = map[string]any{
			"type":     "array",
			"minItems": 1,
		}
		required = append(required, "actions")
	}

	for _, param := range spec.Params {
		paramSchema := map[string]any{
			"description": param.Description,
		}
		switch param.Type {
		case "string", "array", "object":
			paramSchema["type"] = param.Type
		case "integer":
			paramSchema["type"] = []string{"integer", "string"}
		case "number":
			paramSchema["type"] = []string{"number", "string"}
		case "boolean":
			paramSchema["type"] = []string{"boolean", "string"}
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties":           properties,
		"required":             required,
	}
}

// ValidateAction checks a single action against its op schema. Nested actions
// are the caller's job. Violations come back as InvalidPlan.
func ValidateAction(a *Action) error {
	if strings.TrimSpace(a.Op) == "" {
		return execerr.New(execerr.KindInvalidPlan, "action is missing an op")
	}
	all, err := compiledSchemas()
	if err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, "load op schemas", err)
	}
	schema, ok := all[a.Op]
	if !ok {
		return execerr.Newf(execerr.KindInvalidPlan, "unknown operation %q", a.Op).ForOp(a.Op)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(a.wireMap()))
	if err != nil {
		return execerr.Wrap(execerr.KindInvalidPlan, fmt.Sprintf("validate %s", a.Op), err).ForOp(a.Op)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return execerr.Newf(execerr.KindInvalidPlan, "%s: %s", a.Op, strings.Join(msgs, "; ")).ForOp(a.Op)
	}
	return nil
}
