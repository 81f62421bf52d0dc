package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/lore/internal/agent/routing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	return writeNamed(t, t.TempDir(), "lore.yaml", contents)
}

func writeNamed(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: gemini
  providers:
    gemini:
      api_key: test-key
      timeout: 45s
      retry_delay: 250ms
agent:
  token_budget: 50000
  budget:
    search_budget: 6
  allowed_tools:
    summarize: []
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	gemini := cfg.LLM.Providers["gemini"]
	if gemini.Timeout != 45*time.Second || gemini.RetryDelay != 250*time.Millisecond {
		t.Errorf("durations = %v/%v", gemini.Timeout, gemini.RetryDelay)
	}
	if cfg.Agent.Budget.SearchBudget != 6 {
		t.Errorf("SearchBudget = %d, want 6", cfg.Agent.Budget.SearchBudget)
	}
	if cfg.Agent.Budget.MaxIterations != routing.DefaultBudget().MaxIterations {
		t.Errorf("MaxIterations = %d, want default", cfg.Agent.Budget.MaxIterations)
	}
	if cfg.Version != CurrentVersion || cfg.Logging.Level != "info" || cfg.Workspace.Root != "." {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	phases := cfg.Agent.PhaseTools()
	if tools, ok := phases[routing.PhaseSummarize]; !ok || len(tools) != 0 {
		t.Errorf("PhaseTools() = %v", phases)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: k
      region: us
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "default provider missing",
			body: `
llm:
  default_provider: openai
  providers:
    anthropic: {api_key: k}
`,
			wantErr: "default_provider",
		},
		{
			name: "api key missing",
			body: `
llm:
  providers:
    anthropic: {}
`,
			wantErr: "api_key is required",
		},
		{
			name: "unknown provider",
			body: `
llm:
  providers:
    anthropic: {api_key: k}
    mistral: {api_key: k}
`,
			wantErr: "unknown provider",
		},
		{
			name: "negative token budget",
			body: `
llm:
  providers:
    anthropic: {api_key: k}
agent:
  token_budget: -1
`,
			wantErr: "token_budget",
		},
		{
			name: "soft limit above max",
			body: `
llm:
  providers:
    anthropic: {api_key: k}
agent:
  budget:
    max_submits: 2
    soft_submit_limit: 5
`,
			wantErr: "agent.budget",
		},
		{
			name: "unknown phase",
			body: `
llm:
  providers:
    anthropic: {api_key: k}
agent:
  allowed_tools:
    review: [read_file]
`,
			wantErr: "unknown phase",
		},
		{
			name: "bad log format",
			body: `
llm:
  providers:
    anthropic: {api_key: k}
logging:
  format: xml
`,
			wantErr: "logging.format",
		},
		{
			name: "newer version",
			body: `
version: 99
llm:
  providers:
    anthropic: {api_key: k}
`,
			wantErr: "newer than this build",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LORE_TEST_KEY", "from-env")
	path := writeConfig(t, `
llm:
  providers:
    anthropic:
      api_key: ${LORE_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "from-env" {
		t.Errorf("APIKey = %q, want from-env", got)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "providers.json5", `{
  // shared credentials
  llm: {providers: {openai: {api_key: "base", default_model: "gpt-4o"}}},
}`)
	path := writeNamed(t, dir, "lore.yaml", `
$include: providers.json5
llm:
  default_provider: openai
  providers:
    openai:
      default_model: gpt-4.1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	openai := cfg.LLM.Providers["openai"]
	if openai.APIKey != "base" {
		t.Errorf("APIKey = %q, want value from include", openai.APIKey)
	}
	if openai.DefaultModel != "gpt-4.1" {
		t.Errorf("DefaultModel = %q, including file should win", openai.DefaultModel)
	}
}

func TestLoadRawIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "a.yaml", "$include: b.yaml\n")
	writeNamed(t, dir, "b.yaml", "$include: a.yaml\n")
	_, err := LoadRaw(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("LoadRaw() error = %v, want cycle error", err)
	}
}

func TestLoadRawErrors(t *testing.T) {
	if _, err := LoadRaw(" "); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := LoadRaw(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	multi := writeConfig(t, "a: 1\n---\nb: 2\n")
	if _, err := LoadRaw(multi); err == nil {
		t.Error("expected error for multi-document YAML")
	}
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]any{"llm": map[string]any{"a": 1, "b": 1}, "keep": true}
	src := map[string]any{"llm": map[string]any{"b": 2}, "new": "x"}
	got := mergeMaps(dst, src)
	llm := got["llm"].(map[string]any)
	if llm["a"] != 1 || llm["b"] != 2 || got["keep"] != true || got["new"] != "x" {
		t.Errorf("mergeMaps() = %v", got)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", data)
	}
	for _, key := range []string{"llm", "agent", "logging", "transcripts", "workspace", "$include"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %q", key)
		}
	}
	if desc, _ := props["transcripts"].(map[string]any)["description"].(string); desc == "" {
		t.Error("transcripts section has no description")
	}

	llm, _ := props["llm"].(map[string]any)
	llmProps, _ := llm["properties"].(map[string]any)
	providers, _ := llmProps["providers"].(map[string]any)
	provider, _ := providers["additionalProperties"].(map[string]any)
	providerProps, _ := provider["properties"].(map[string]any)
	timeout, _ := providerProps["timeout"].(map[string]any)
	if timeout["type"] != "string" || timeout["pattern"] == nil {
		t.Errorf("timeout schema = %v, want a duration string", timeout)
	}
}
