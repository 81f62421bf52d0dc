package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/lore/internal/agent"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func TestResolverRejectsEscape(t *testing.T) {
	resolver := Resolver{Root: t.TempDir()}
	for _, path := range []string{"../outside.txt", "a/../../b", "/etc/passwd"} {
		if _, err := resolver.Resolve(path); err == nil {
			t.Errorf("Resolve(%q) should be rejected", path)
		}
	}
}

func TestResolverEmptyIsRoot(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	got, err := resolver.Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolver.Rel(got) != "." {
		t.Errorf("Rel(Resolve(\"\")) = %q, want .", resolver.Rel(got))
	}
}

func TestReadTool(t *testing.T) {
	root := writeTree(t, map[string]string{"notes.txt": "one\ntwo\nthree\nfour\n"})
	tool := NewReadTool(Config{Root: root})

	tests := []struct {
		name      string
		params    map[string]any
		content   string
		truncated bool
	}{
		{"whole file", map[string]any{"filePath": "notes.txt"}, "one\ntwo\nthree\nfour", false},
		{"range", map[string]any{"filePath": "notes.txt", "startLine": float64(2), "endLine": float64(3)}, "two\nthree", true},
		{"end clamps", map[string]any{"filePath": "notes.txt", "startLine": float64(4), "endLine": float64(99)}, "four", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tool.Execute(context.Background(), tt.params, nil)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			result := got.(map[string]any)
			if result["content"] != tt.content {
				t.Errorf("content = %q, want %q", result["content"], tt.content)
			}
			if result["truncated"] != tt.truncated {
				t.Errorf("truncated = %v, want %v", result["truncated"], tt.truncated)
			}
			if result["totalLines"] != 4 {
				t.Errorf("totalLines = %v, want 4", result["totalLines"])
			}
		})
	}
}

func TestReadToolErrors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":   "x\n",
		"bin.dat": "ab\x00cd",
		"big.txt": strings.Repeat("y", 64),
	})
	tool := NewReadTool(Config{Root: root, MaxFileBytes: 32})

	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"missing", map[string]any{"filePath": "nope.txt"}, "stat file"},
		{"escape", map[string]any{"filePath": "../x"}, "escapes"},
		{"directory", map[string]any{"filePath": "."}, "directory"},
		{"binary", map[string]any{"filePath": "bin.dat"}, "binary"},
		{"too large", map[string]any{"filePath": "big.txt"}, "limit"},
		{"past end", map[string]any{"filePath": "a.txt", "startLine": float64(5)}, "past the end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), tt.params, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Execute() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSearchTool(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":             "package main\n\nfunc main() {}\n",
		"pkg/util.go":         "package pkg\n\nfunc Helper() {}\nfunc other() {}\n",
		"README.md":           "func in docs\n",
		"vendor/dep/dep.go":   "func vendored() {}\n",
		"node_modules/x/a.js": "function func() {}\n",
		".git/HEAD":           "func ref\n",
	})
	tool := NewSearchTool(Config{Root: root})

	got, err := tool.Execute(context.Background(), map[string]any{"pattern": `^func \w+`, "glob": "*.go"}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := got.(map[string]any)
	if result["total"] != 3 {
		t.Fatalf("total = %v, want 3 (%v)", result["total"], result["matches"])
	}
	matches := result["matches"].([]map[string]any)
	if matches[0]["file"] != "main.go" || matches[0]["line"] != 3 {
		t.Errorf("first match = %v, want main.go:3", matches[0])
	}
	if matches[1]["file"] != "pkg/util.go" {
		t.Errorf("second match file = %v, want pkg/util.go", matches[1]["file"])
	}

	got, err = tool.Execute(context.Background(), map[string]any{"pattern": "func", "maxResults": float64(2)}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result = got.(map[string]any)
	if result["total"] != 2 || result["truncated"] != true {
		t.Errorf("limited result = %v", result)
	}
}

func TestSearchToolInvalidInput(t *testing.T) {
	tool := NewSearchTool(Config{Root: t.TempDir()})
	if _, err := tool.Execute(context.Background(), map[string]any{"pattern": "("}, nil); err == nil {
		t.Error("expected invalid pattern error")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"pattern": "x", "glob": "["}, nil); err == nil {
		t.Error("expected invalid glob error")
	}
}

func TestListTool(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.md":           "b",
		"a.md":           "a",
		"docs/c.md":      "c",
		"docs/d.txt":     "d",
		".git/config":    "x",
		"vendor/v.md":    "v",
		"docs/deep/e.md": "e",
	})
	tool := NewListTool(Config{Root: root})

	got, err := tool.Execute(context.Background(), map[string]any{"glob": "*.md"}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	files := got.(map[string]any)["files"].([]string)
	want := []string{"a.md", "b.md", "docs/c.md", "docs/deep/e.md"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", files, want)
	}

	got, err = tool.Execute(context.Background(), map[string]any{"dirPath": "docs", "maxResults": float64(1)}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := got.(map[string]any)
	if result["total"] != 1 || result["truncated"] != true {
		t.Errorf("limited result = %v", result)
	}
}

func TestRegisterNormalizesAliases(t *testing.T) {
	root := writeTree(t, map[string]string{"src/app.go": "package src\n"})
	registry := agent.NewToolRegistry()
	if err := Register(registry, Config{Root: root}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, name := range []string{"read_file", "search_code", "list_files"} {
		if !registry.Has(name) {
			t.Errorf("tool %s not registered", name)
		}
	}

	outcome, err := registry.Execute(context.Background(), "read_file", map[string]any{"path": "src/app.go"}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.IsError() {
		t.Fatalf("outcome error = %s", outcome.Error)
	}
	if outcome.Result.(map[string]any)["content"] != "package src" {
		t.Errorf("content = %v", outcome.Result)
	}

	outcome, err = registry.Execute(context.Background(), "read_file", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.IsError() {
		t.Error("missing filePath should fail schema validation")
	}
}
