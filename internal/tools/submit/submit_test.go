package submit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/haasonsaas/lore/internal/agent"
)

func TestToolRecordsCandidate(t *testing.T) {
	collector := NewCollector()
	tool := New(collector)

	got, err := tool.Execute(context.Background(), map[string]any{
		"title":    "  Config includes  ",
		"kind":     "convention",
		"summary":  "Config files may pull in others with $include.",
		"evidence": []any{"internal/config/loader.go", " ", ""},
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := got.(map[string]any)
	if _, err := uuid.Parse(result["id"].(string)); err != nil {
		t.Errorf("id %v is not a uuid: %v", result["id"], err)
	}

	candidates := collector.Candidates()
	if len(candidates) != 1 {
		t.Fatalf("len(Candidates()) = %d, want 1", len(candidates))
	}
	c := candidates[0]
	if c.Title != "Config includes" {
		t.Errorf("Title = %q, want trimmed", c.Title)
	}
	if len(c.Evidence) != 1 || c.Evidence[0] != "internal/config/loader.go" {
		t.Errorf("Evidence = %v", c.Evidence)
	}
	if c.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestToolRejectsDuplicateTitle(t *testing.T) {
	tool := New(nil)
	params := map[string]any{"title": "Retry policy", "summary": "Backoff doubles."}
	if _, err := tool.Execute(context.Background(), params, nil); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	params["title"] = "retry POLICY"
	_, err := tool.Execute(context.Background(), params, nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Execute() error = %v, want ErrDuplicate", err)
	}
}

func TestToolRejectsBlankFields(t *testing.T) {
	tool := New(nil)
	_, err := tool.Execute(context.Background(), map[string]any{"title": " ", "summary": "x"}, nil)
	if err == nil {
		t.Error("expected error for blank title")
	}
}

func TestRegisteredSchemaValidation(t *testing.T) {
	registry := agent.NewToolRegistry()
	if err := registry.Register(New(nil).Definition()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"title": "A", "summary": "B", "kind": "gotcha"}, false},
		{"alias body", map[string]any{"name": "C", "body": "D"}, false},
		{"bad kind", map[string]any{"title": "E", "summary": "F", "kind": "rumor"}, true},
		{"missing summary", map[string]any{"title": "G"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := registry.Execute(context.Background(), ToolName, tt.params, nil)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if outcome.IsError() != tt.wantErr {
				t.Errorf("IsError() = %v, want %v (%s)", outcome.IsError(), tt.wantErr, outcome.Error)
			}
		})
	}
}
