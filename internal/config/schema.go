package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// durationPattern matches the strings time.ParseDuration accepts.
const durationPattern = `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var sectionDescriptions = map[string]string{
	"version":       "Configuration file format version.",
	"llm":           "Backend credentials and the default provider.",
	"agent":         "Session budgets, per-phase tool lists and prompt settings.",
	"logging":       "Structured log output.",
	"observability": "Prometheus metrics endpoint and OpenTelemetry tracing.",
	"transcripts":   "SQLite persistence of finished sessions.",
	"workspace":     "Project root and limits for the file tools.",
}

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema of the configuration file. Durations
// are documented as strings, matching how the loader decodes them, and the
// top-level $include key is declared.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:   "yaml",
			DoNotReference: true,
			ExpandedStruct: true,
			Mapper:         mapConfigType,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "lore configuration"
		if schema.Properties != nil {
			for name, desc := range sectionDescriptions {
				if prop, ok := schema.Properties.Get(name); ok && prop != nil {
					prop.Description = desc
				}
			}
			schema.Properties.Set(includeKey, &jsonschema.Schema{
				Description: "Files merged underneath this one, loaded relative to it.",
				OneOf: []*jsonschema.Schema{
					{Type: "string"},
					{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				},
			})
		}
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

func mapConfigType(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     durationPattern,
			Description: "Duration such as 30s or 1m30s.",
		}
	}
	return nil
}
