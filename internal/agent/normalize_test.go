package agent

import (
	"reflect"
	"testing"
)

func TestNormalizeParams(t *testing.T) {
	declared := []string{"filePath", "maxResults", "pattern", "dirPath"}
	tests := []struct {
		name string
		raw  map[string]any
		want map[string]any
	}{
		{
			name: "exact",
			raw:  map[string]any{"filePath": "a.go"},
			want: map[string]any{"filePath": "a.go"},
		},
		{
			name: "snake case",
			raw:  map[string]any{"file_path": "a.go", "max_results": 5},
			want: map[string]any{"filePath": "a.go", "maxResults": 5},
		},
		{
			name: "lowercase run together",
			raw:  map[string]any{"filepath": "a.go", "MAXRESULTS": 2},
			want: map[string]any{"filePath": "a.go", "maxResults": 2},
		},
		{
			name: "alias",
			raw:  map[string]any{"path": "a.go", "query": "TODO"},
			want: map[string]any{"filePath": "a.go", "pattern": "TODO"},
		},
		{
			name: "unknown passes through",
			raw:  map[string]any{"verbose": true},
			want: map[string]any{"verbose": true},
		},
		{
			name: "exact wins over alias",
			raw:  map[string]any{"path": "alias.go", "filePath": "exact.go"},
			want: map[string]any{"filePath": "exact.go"},
		},
		{
			name: "snake case wins over alias",
			raw:  map[string]any{"file_path": "snake.go", "path": "alias.go"},
			want: map[string]any{"filePath": "snake.go"},
		},
		{
			name: "fold wins over alias",
			raw:  map[string]any{"query": "alias", "PATTERN": "folded"},
			want: map[string]any{"pattern": "folded"},
		},
		{
			name: "same tier picks smaller key",
			raw:  map[string]any{"q": "second", "query": "first"},
			want: map[string]any{"pattern": "second"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeParams(tt.raw, declared)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeParams() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeParams_StableAcrossRuns(t *testing.T) {
	raw := map[string]any{"file_path": "a.go", "path": "b.go", "filename": "c.go"}
	for i := 0; i < 200; i++ {
		got := NormalizeParams(raw, []string{"filePath"})
		if got["filePath"] != "a.go" {
			t.Fatalf("run %d: NormalizeParams() = %v, want filePath=a.go", i, got)
		}
	}
}

func TestNormalizeParams_AliasRespectsDeclared(t *testing.T) {
	got := NormalizeParams(map[string]any{"path": "src"}, []string{"dirPath", "pattern"})
	if got["dirPath"] != "src" {
		t.Errorf("NormalizeParams() = %v, want dirPath=src", got)
	}
}

func TestNormalizeParams_NoSchema(t *testing.T) {
	raw := map[string]any{"file_path": "a.go"}
	got := NormalizeParams(raw, nil)
	if !reflect.DeepEqual(got, raw) {
		t.Errorf("NormalizeParams() = %v, want passthrough", got)
	}
}

func TestSnakeToCamel(t *testing.T) {
	tests := map[string]string{
		"file_path":   "filePath",
		"max-results": "maxResults",
		"plain":       "plain",
		"_leading":    "leading",
	}
	for in, want := range tests {
		if got := snakeToCamel(in); got != want {
			t.Errorf("snakeToCamel(%q) = %q, want %q", in, got, want)
		}
	}
}
