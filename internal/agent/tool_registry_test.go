package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var readSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"filePath":  map[string]any{"type": "string"},
		"startLine": map[string]any{"type": "integer"},
	},
	"required": []any{"filePath"},
}

func echoHandler(_ context.Context, params map[string]any, _ any) (any, error) {
	return params, nil
}

func TestToolRegistry_RegisterValidation(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(ToolDefinition{Handler: echoHandler}); !errors.Is(err, ErrMissingName) {
		t.Errorf("Register(no name) error = %v, want %v", err, ErrMissingName)
	}
	if err := r.Register(ToolDefinition{Name: "x"}); !errors.Is(err, ErrMissingHandler) {
		t.Errorf("Register(no handler) error = %v, want %v", err, ErrMissingHandler)
	}
	bad := map[string]any{"type": "object", "properties": map[string]any{"a": map[string]any{"type": 42}}}
	if err := r.Register(ToolDefinition{Name: "bad", Parameters: bad, Handler: echoHandler}); err == nil {
		t.Error("Register() with invalid schema should fail")
	}
}

func TestToolRegistry_LastRegistrationWins(t *testing.T) {
	r := NewToolRegistry()
	first := func(context.Context, map[string]any, any) (any, error) { return "first", nil }
	second := func(context.Context, map[string]any, any) (any, error) { return "second", nil }
	if err := r.Register(ToolDefinition{Name: "tool", Description: "v1", Handler: first}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ToolDefinition{Name: "tool", Description: "v2", Handler: second}); err != nil {
		t.Fatal(err)
	}
	out, err := r.Execute(context.Background(), "tool", nil, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Result != "second" {
		t.Errorf("Execute() result = %v, want second", out.Result)
	}
	if got := r.ToolSchemas(); len(got) != 1 || got[0].Description != "v2" {
		t.Errorf("ToolSchemas() = %+v", got)
	}
}

func TestToolRegistry_ToolSchemasFilter(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"search_code", "read_file", "submit_knowledge"} {
		if err := r.Register(ToolDefinition{Name: name, Handler: echoHandler}); err != nil {
			t.Fatal(err)
		}
	}
	all := r.ToolSchemas()
	if len(all) != 3 || all[0].Name != "read_file" || all[2].Name != "submit_knowledge" {
		t.Errorf("ToolSchemas() = %+v, want sorted list of 3", all)
	}
	some := r.ToolSchemas("submit_knowledge", "missing")
	if len(some) != 1 || some[0].Name != "submit_knowledge" {
		t.Errorf("ToolSchemas(filtered) = %+v", some)
	}
	if names := r.Names(); len(names) != 3 || !r.Has("read_file") {
		t.Errorf("Names() = %v", names)
	}
}

func TestToolRegistry_ExecuteNotFound(t *testing.T) {
	r := NewToolRegistry()
	_, err := r.Execute(context.Background(), "nope", nil, nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Execute() error = %v, want %v", err, ErrToolNotFound)
	}
}

func TestToolRegistry_ExecuteNormalizesAndPassesContext(t *testing.T) {
	var gotCtx any
	var gotParams map[string]any
	r := NewToolRegistry()
	err := r.Register(ToolDefinition{
		Name:       "read_file",
		Parameters: readSchema,
		Handler: func(_ context.Context, params map[string]any, toolCtx any) (any, error) {
			gotParams, gotCtx = params, toolCtx
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.Execute(context.Background(), "read_file", map[string]any{"file_path": "main.go", "start_line": 3}, "project-root")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.IsError() {
		t.Fatalf("Execute() outcome error = %s", out.Error)
	}
	if gotParams["filePath"] != "main.go" || gotParams["startLine"] != 3 {
		t.Errorf("handler params = %v", gotParams)
	}
	if gotCtx != "project-root" {
		t.Errorf("handler context = %v, want project-root", gotCtx)
	}
}

func TestToolRegistry_ExecuteInlineErrors(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(ToolDefinition{
		Name: "fails",
		Handler: func(context.Context, map[string]any, any) (any, error) {
			return nil, errors.New("disk on fire")
		},
	})
	_ = r.Register(ToolDefinition{
		Name: "panics",
		Handler: func(context.Context, map[string]any, any) (any, error) {
			panic("boom")
		},
	})
	_ = r.Register(ToolDefinition{Name: "read_file", Parameters: readSchema, Handler: echoHandler})

	tests := []struct {
		name    string
		tool    string
		params  map[string]any
		wantErr string
	}{
		{"handler error", "fails", nil, "disk on fire"},
		{"panic", "panics", nil, "tool panicked: boom"},
		{"missing required", "read_file", map[string]any{}, "invalid parameters"},
		{"wrong type", "read_file", map[string]any{"filePath": 12}, "invalid parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Execute(context.Background(), tt.tool, tt.params, nil)
			if err != nil {
				t.Fatalf("Execute() error = %v, want inline error", err)
			}
			if !out.IsError() || !strings.Contains(out.Error, tt.wantErr) {
				t.Errorf("Execute() outcome error = %q, want containing %q", out.Error, tt.wantErr)
			}
			payload, ok := out.Payload().(map[string]any)
			if !ok || payload["error"] != out.Error {
				t.Errorf("Payload() = %v", out.Payload())
			}
		})
	}
}

func TestToolRegistry_Observer(t *testing.T) {
	var calls []bool
	r := NewToolRegistry(WithToolObserver(func(_ string, _ time.Duration, failed bool) {
		calls = append(calls, failed)
	}))
	_ = r.Register(ToolDefinition{Name: "ok", Handler: echoHandler})
	_ = r.Register(ToolDefinition{Name: "bad", Handler: func(context.Context, map[string]any, any) (any, error) {
		return nil, errors.New("x")
	}})
	_, _ = r.Execute(context.Background(), "ok", nil, nil)
	_, _ = r.Execute(context.Background(), "bad", nil, nil)
	if len(calls) != 2 || calls[0] || !calls[1] {
		t.Errorf("observer calls = %v, want [false true]", calls)
	}
}
