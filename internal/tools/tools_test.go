package tools

import (
	"strings"
	"testing"

	"github.com/haasonsaas/lore/pkg/models"
)

type sampleParams struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=Path relative to the project root"`
	StartLine int    `json:"startLine,omitempty" jsonschema:"minimum=1"`
}

func TestReflectSchema(t *testing.T) {
	schema := ReflectSchema[sampleParams]()
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["filePath"] == nil || props["startLine"] == nil {
		t.Fatalf("properties = %v", schema["properties"])
	}
	required, _ := schema["required"].([]any)
	if len(required) != 1 || required[0] != "filePath" {
		t.Errorf("required = %v, want [filePath]", schema["required"])
	}
	if _, ok := schema["additionalProperties"]; ok {
		t.Errorf("additionalProperties should be absent, got %v", schema["additionalProperties"])
	}
}

func TestDecodeParams(t *testing.T) {
	got, err := DecodeParams[sampleParams](map[string]any{"filePath": "a.go", "startLine": float64(3), "extra": true})
	if err != nil {
		t.Fatalf("DecodeParams() error = %v", err)
	}
	if got.FilePath != "a.go" || got.StartLine != 3 {
		t.Errorf("DecodeParams() = %+v", got)
	}
	if _, err := DecodeParams[sampleParams](map[string]any{"startLine": "three"}); err == nil {
		t.Error("expected type error")
	}
}

func TestDescribeCall(t *testing.T) {
	tests := []struct {
		name string
		call models.ToolCall
		want string
	}{
		{"read", models.ToolCall{Name: "read_file", Args: map[string]any{"filePath": "go.mod"}}, "📖 Reading: go.mod"},
		{"read range", models.ToolCall{Name: "read_file", Args: map[string]any{"filePath": "a.go", "startLine": float64(5), "endLine": float64(9)}}, "📖 Reading: a.go lines 5-9"},
		{"search", models.ToolCall{Name: "search_code", Args: map[string]any{"pattern": "func main"}}, "🔍 Searching: func main"},
		{"no args", models.ToolCall{Name: "list_files"}, "📂 Listing"},
		{"unknown", models.ToolCall{Name: "custom"}, "🧩 custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeCall(tt.call); got != tt.want {
				t.Errorf("DescribeCall() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribeCall_Truncates(t *testing.T) {
	call := models.ToolCall{Name: "submit_knowledge", Args: map[string]any{"title": strings.Repeat("x", 200)}}
	got := DescribeCall(call)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) > MaxDetailLength+len([]rune("📝 Submitting: ")) {
		t.Errorf("DescribeCall() = %q", got)
	}
}
