// Package tools holds helpers shared by the built-in agent tools.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ReflectSchema derives a tool parameter schema from a params struct.
// Fields are required only when tagged `jsonschema:"required"`, and unknown
// properties are allowed so aliased argument names survive validation.
func ReflectSchema[T any]() map[string]any {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		ExpandedStruct:             true,
	}
	var zero T
	schema := r.Reflect(&zero)
	payload, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// DecodeParams converts normalized tool arguments into a params struct.
func DecodeParams[T any](params map[string]any) (T, error) {
	var out T
	payload, err := json.Marshal(params)
	if err != nil {
		return out, fmt.Errorf("encode parameters: %w", err)
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("invalid parameters: %w", err)
	}
	return out, nil
}
