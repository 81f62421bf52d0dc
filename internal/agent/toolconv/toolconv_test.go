package toolconv

import (
	"encoding/json"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/lore/pkg/models"
)

func reflectedSchema() map[string]any {
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"$id":                  "https://example.invalid/read",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"filePath":  map[string]any{"type": "string", "description": "path", "minLength": 1},
			"startLine": map[string]any{"type": []any{"integer", "null"}, "default": 1},
			"mode":      map[string]any{"enum": []any{"head", "tail", 3}},
			"tags":      map[string]any{"type": "array"},
			"opts":      map[string]any{"properties": map[string]any{"deep": map[string]any{}}},
		},
		"required": []any{"filePath", "ghost"},
	}
}

func TestSanitizeSchema(t *testing.T) {
	in := reflectedSchema()
	got := SanitizeSchema(in)

	for _, key := range []string{"$schema", "$id", "additionalProperties"} {
		if _, ok := got[key]; ok {
			t.Errorf("keyword %q not stripped", key)
		}
	}
	props := got["properties"].(map[string]any)
	file := props["filePath"].(map[string]any)
	if _, ok := file["minLength"]; ok {
		t.Error("minLength not stripped")
	}
	if start := props["startLine"].(map[string]any); start["type"] != "integer" || start["default"] != nil {
		t.Errorf("startLine = %v", start)
	}
	mode := props["mode"].(map[string]any)
	if mode["type"] != "string" || len(mode["enum"].([]any)) != 2 {
		t.Errorf("mode = %v, want string enum of 2", mode)
	}
	if tags := props["tags"].(map[string]any); tags["items"] == nil {
		t.Errorf("array without items = %v", tags)
	}
	opts := props["opts"].(map[string]any)
	if opts["type"] != "object" {
		t.Errorf("opts type = %v, want object", opts["type"])
	}
	deep := opts["properties"].(map[string]any)["deep"].(map[string]any)
	if deep["type"] != "string" {
		t.Errorf("untyped nested property type = %v, want string", deep["type"])
	}
	if req := got["required"].([]any); len(req) != 1 || req[0] != "filePath" {
		t.Errorf("required = %v, want [filePath]", req)
	}
	if _, ok := in["$schema"]; !ok {
		t.Error("SanitizeSchema mutated its input")
	}
}

func TestSanitizeSchema_Empty(t *testing.T) {
	got := SanitizeSchema(nil)
	if got["type"] != "object" {
		t.Errorf("SanitizeSchema(nil) = %v", got)
	}
	if _, ok := got["properties"].(map[string]any); !ok {
		t.Errorf("SanitizeSchema(nil) missing properties: %v", got)
	}
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools([]models.ToolSchema{{Name: "read_file", Description: "Read a file", Parameters: reflectedSchema()}})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("ToGeminiTools() = %+v", tools)
	}
	decl := tools[0].FunctionDeclarations[0]
	if decl.Name != "read_file" || decl.Parameters.Type != genai.TypeObject {
		t.Errorf("declaration = %+v", decl)
	}
	if decl.Parameters.Properties["startLine"].Type != genai.TypeInteger {
		t.Errorf("startLine type = %v", decl.Parameters.Properties["startLine"].Type)
	}
	if ToGeminiTools(nil) != nil {
		t.Error("ToGeminiTools(nil) should be nil")
	}
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools([]models.ToolSchema{{Name: "list_files", Description: "List"}})
	if len(tools) != 1 || tools[0].Function.Name != "list_files" {
		t.Fatalf("ToOpenAITools() = %+v", tools)
	}
	params := tools[0].Function.Parameters.(map[string]any)
	if params["type"] != "object" {
		t.Errorf("parameters = %v", params)
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := ToAnthropicTools([]models.ToolSchema{{Name: "read_file", Description: "Read", Parameters: reflectedSchema()}})
	if err != nil {
		t.Fatalf("ToAnthropicTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil || tools[0].OfTool.Name != "read_file" {
		t.Fatalf("ToAnthropicTools() = %+v", tools)
	}
	payload, err := json.Marshal(tools[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(payload), `"filePath"`) || strings.Contains(string(payload), "$schema") {
		t.Errorf("tool payload = %s", payload)
	}
}
