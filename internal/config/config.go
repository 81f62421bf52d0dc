package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/lore/internal/agent/routing"
)

// Provider names accepted under llm.providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

// KnownProviders lists the backends an adapter exists for.
var KnownProviders = []string{ProviderAnthropic, ProviderGemini, ProviderOpenAI}

const defaultTokenBudget = 100_000

// Config is the main configuration structure for lore.
type Config struct {
	Version       int                 `yaml:"version"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Transcripts   TranscriptsConfig   `yaml:"transcripts"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" jsonschema:"enum=anthropic,enum=gemini,enum=openai"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds connection settings for one backend.
type ProviderConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	DefaultModel   string        `yaml:"default_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	// MaxRetries applies to the backends that retry; negative disables.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the initial backoff delay.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AgentConfig shapes one exploration session.
type AgentConfig struct {
	Budget       routing.Budget `yaml:"budget"`
	TokenBudget  int            `yaml:"token_budget" jsonschema:"minimum=1"`
	SkillOnly    bool           `yaml:"skill_only"`
	Temperature  *float64       `yaml:"temperature" jsonschema:"minimum=0,maximum=2"`
	MaxTokens    int            `yaml:"max_tokens"`
	SystemPrompt string         `yaml:"system_prompt"`
	// AllowedTools restricts the tools offered per phase (EXPLORE, PRODUCE, SUMMARIZE).
	AllowedTools map[string][]string `yaml:"allowed_tools"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" jsonschema:"enum=text,enum=json"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate" jsonschema:"minimum=0,maximum=1"`
	Insecure     bool    `yaml:"insecure"`
}

// TranscriptsConfig controls session transcript persistence.
type TranscriptsConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// WorkspaceConfig scopes the built-in file tools.
type WorkspaceConfig struct {
	Root         string `yaml:"root"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
}

// Load reads, merges, decodes, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = ProviderAnthropic
	}

	defaults := routing.DefaultBudget()
	b := &cfg.Agent.Budget
	fill := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	fill(&b.MaxIterations, defaults.MaxIterations)
	fill(&b.SearchBudget, defaults.SearchBudget)
	fill(&b.SearchBudgetGrace, defaults.SearchBudgetGrace)
	fill(&b.MaxSubmits, defaults.MaxSubmits)
	fill(&b.SoftSubmitLimit, defaults.SoftSubmitLimit)
	fill(&b.IdleRoundsToExit, defaults.IdleRoundsToExit)
	if cfg.Agent.TokenBudget == 0 {
		cfg.Agent.TokenBudget = defaultTokenBudget
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Observability.Metrics.Address == "" {
		cfg.Observability.Metrics.Address = "127.0.0.1:9464"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "lore"
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Workspace.MaxFileBytes == 0 {
		cfg.Workspace.MaxFileBytes = 1 << 20
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}

	for name := range c.LLM.Providers {
		if !slices.Contains(KnownProviders, name) {
			errs = append(errs, fmt.Errorf("llm.providers.%s: unknown provider (want one of %s)", name, strings.Join(KnownProviders, ", ")))
		}
	}
	provider, ok := c.LLM.Providers[c.LLM.DefaultProvider]
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("llm.default_provider: %q is not configured under llm.providers", c.LLM.DefaultProvider))
	case strings.TrimSpace(provider.APIKey) == "":
		errs = append(errs, fmt.Errorf("llm.providers.%s.api_key is required", c.LLM.DefaultProvider))
	}
	for name, p := range c.LLM.Providers {
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("llm.providers.%s.timeout must not be negative", name))
		}
		if p.RetryDelay < 0 {
			errs = append(errs, fmt.Errorf("llm.providers.%s.retry_delay must not be negative", name))
		}
	}

	if c.Agent.TokenBudget <= 0 {
		errs = append(errs, errors.New("agent.token_budget must be positive"))
	}
	if c.Agent.MaxTokens < 0 {
		errs = append(errs, errors.New("agent.max_tokens must not be negative"))
	}
	if t := c.Agent.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, errors.New("agent.temperature must be between 0 and 2"))
	}
	if err := c.Agent.Budget.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("agent.budget: %w", err))
	}
	for phase := range c.Agent.AllowedTools {
		if !validPhase(phase) {
			errs = append(errs, fmt.Errorf("agent.allowed_tools: unknown phase %q", phase))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("observability.tracing.sampling_rate must be between 0 and 1"))
	}
	if c.Workspace.MaxFileBytes < 0 {
		errs = append(errs, errors.New("workspace.max_file_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

// PhaseTools converts AllowedTools into the router's phase keys.
func (a AgentConfig) PhaseTools() map[routing.Phase][]string {
	if len(a.AllowedTools) == 0 {
		return nil
	}
	out := make(map[routing.Phase][]string, len(a.AllowedTools))
	for phase, tools := range a.AllowedTools {
		out[routing.Phase(strings.ToUpper(phase))] = tools
	}
	return out
}

func validPhase(name string) bool {
	switch routing.Phase(strings.ToUpper(name)) {
	case routing.PhaseExplore, routing.PhaseProduce, routing.PhaseSummarize:
		return true
	default:
		return false
	}
}
