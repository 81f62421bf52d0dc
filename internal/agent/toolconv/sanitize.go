// Package toolconv converts backend-independent tool schemas into each
// backend's native tool declaration format.
package toolconv

import "sort"

// restrictedKeywords are the JSON Schema keywords understood by backends
// with a restricted schema dialect. Everything else is stripped.
var restrictedKeywords = map[string]bool{
	"type":        true,
	"description": true,
	"enum":        true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"format":      true,
	"nullable":    true,
}

// SanitizeSchema returns a copy of schema restricted to the keywords a
// limited dialect accepts. Every property gets a type (string when none is
// declared or the declared one is unusable) and required only names
// properties that exist. The input is not modified.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := sanitizeNode(schema, "object")
	if out["type"] != "object" {
		out = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

func sanitizeNode(node map[string]any, fallbackType string) map[string]any {
	out := make(map[string]any, len(node))
	for key, value := range node {
		if !restrictedKeywords[key] {
			continue
		}
		switch key {
		case "properties":
			props, ok := value.(map[string]any)
			if !ok {
				continue
			}
			clean := make(map[string]any, len(props))
			for name, prop := range props {
				propMap, ok := prop.(map[string]any)
				if !ok {
					propMap = map[string]any{}
				}
				clean[name] = sanitizeNode(propMap, "string")
			}
			out[key] = clean
		case "items":
			if items, ok := value.(map[string]any); ok {
				out[key] = sanitizeNode(items, "string")
			}
		case "type":
			if t := resolveType(value); t != "" {
				out[key] = t
			}
		case "enum":
			if values, ok := value.([]any); ok {
				out[key] = stringEnum(values)
			}
		default:
			out[key] = value
		}
	}

	if _, ok := out["type"]; !ok {
		switch {
		case out["properties"] != nil:
			out["type"] = "object"
		case out["items"] != nil:
			out["type"] = "array"
		default:
			out["type"] = fallbackType
		}
	}
	if out["type"] == "array" && out["items"] == nil {
		out["items"] = map[string]any{"type": "string"}
	}
	if required, ok := out["required"]; ok {
		if list := filterRequired(required, out["properties"]); len(list) > 0 {
			out["required"] = list
		} else {
			delete(out, "required")
		}
	}
	return out
}

// resolveType picks a single type; ["string","null"] becomes "string".
func resolveType(value any) string {
	switch v := value.(type) {
	case string:
		if v == "null" {
			return ""
		}
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	case []string:
		for _, s := range v {
			if s != "null" {
				return s
			}
		}
	}
	return ""
}

func stringEnum(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func filterRequired(required any, properties any) []any {
	props, _ := properties.(map[string]any)
	var names []string
	switch v := required.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	case []string:
		names = append(names, v...)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, name := range names {
		if _, ok := props[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// objectSchema ensures a top-level object schema for backends that accept
// full JSON Schema.
func objectSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}
