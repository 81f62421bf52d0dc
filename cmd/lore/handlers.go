package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/agent/tape"
	"github.com/haasonsaas/lore/internal/config"
	"github.com/haasonsaas/lore/internal/observability"
	"github.com/haasonsaas/lore/internal/tools"
	"github.com/haasonsaas/lore/internal/tools/submit"
	"github.com/haasonsaas/lore/internal/transcripts"
	"github.com/haasonsaas/lore/pkg/models"
)

// runOutput is the --json view of a finished session.
type runOutput struct {
	SessionID  string             `json:"session_id"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Phase      string             `json:"phase"`
	Rounds     int                `json:"rounds"`
	Summary    string             `json:"summary"`
	Candidates []models.Candidate `json:"candidates"`
	Usage      models.Usage       `json:"usage"`
	TraceID    string             `json:"trace_id,omitempty"`
	Mismatches []tape.Mismatch    `json:"replay_mismatches,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// backend is the provider a run talks to, plus the tape wrapper around it
// when recording or replaying.
type backend struct {
	provider agent.ProviderAdapter
	recorder *tape.Recorder
	replayer *tape.Replayer
	turns    int
}

func runSession(ctx context.Context, out io.Writer, opts runOptions, task string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.root != "" {
		cfg.Workspace.Root = opts.root
	}
	if opts.skillOnly {
		cfg.Agent.SkillOnly = true
	}
	level := cfg.Logging.Level
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: cfg.Logging.Format})

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var metrics *observability.AgentMetrics
	if cfg.Observability.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = observability.NewAgentMetrics(reg)
		server := startMetricsServer(cfg.Observability.Metrics.Address, reg, logger)
		defer server.Close()
	}

	be, err := sessionProvider(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	provider := be.provider

	sessionID := uuid.NewString()
	ctx = observability.AddSessionID(ctx, sessionID)

	collector := submit.NewCollector()
	registry, err := newToolRegistry(cfg.Workspace, collector, metrics, logger)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	systemPrompt := cfg.Agent.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	sessionCfg := agent.SessionConfig{
		Provider:     provider,
		Tools:        registry,
		Budget:       cfg.Agent.Budget,
		SkillOnly:    cfg.Agent.SkillOnly,
		TokenBudget:  cfg.Agent.TokenBudget,
		SystemPrompt: systemPrompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
		AllowedTools: cfg.Agent.PhaseTools(),
		SessionID:    sessionID,
		Logger:       logger,
	}
	if metrics != nil {
		sessionCfg.Observer = metrics
	}
	session, err := agent.NewSession(sessionCfg)
	if err != nil {
		return err
	}

	ctx, span := tracer.TraceSession(ctx, provider.Name(), provider.Model())
	defer span.End()
	traceID := observability.GetTraceID(ctx)
	logger.InfoContext(ctx, "session started", "provider", provider.Name(), "model", provider.Model(), "trace_id", traceID)

	result, runErr := session.Run(ctx, task)
	if runErr != nil {
		tracer.RecordError(span, runErr)
	}
	if result == nil {
		return runErr
	}
	candidates := collector.Candidates()

	if be.recorder != nil {
		recorded := be.recorder.Tape()
		if err := recorded.Save(opts.record); err != nil {
			logger.ErrorContext(ctx, "failed to save tape", "path", opts.record, "error", err)
		} else {
			summary := recorded.Summary()
			logger.InfoContext(ctx, "tape saved", "path", opts.record, "turns", summary.TurnCount, "tool_calls", summary.ToolCallCount, "errors", summary.ErrorCount)
		}
	}

	var mismatches []tape.Mismatch
	if be.replayer != nil {
		if used := be.replayer.CurrentTurn(); used < be.turns {
			logger.WarnContext(ctx, "replay finished with unused turns", "used", used, "recorded", be.turns)
		}
		mismatches = be.replayer.Mismatches()
	}

	if cfg.Transcripts.Path != "" {
		err := observability.WithSpan(ctx, tracer, "transcripts.save", func(ctx context.Context, span trace.Span) error {
			span.SetAttributes(attribute.String("lore.session_id", result.SessionID))
			return saveTranscript(ctx, cfg.Transcripts.Path, provider, result, candidates, logger)
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to save transcript", "error", err)
		}
	}

	if opts.jsonOutput {
		view := runOutput{
			SessionID:  result.SessionID,
			Provider:   provider.Name(),
			Model:      provider.Model(),
			Phase:      string(result.Phase),
			Rounds:     result.Rounds,
			Summary:    result.FinalText,
			Candidates: candidates,
			Usage:      result.Usage,
			TraceID:    traceID,
			Mismatches: mismatches,
		}
		if runErr != nil {
			view.Error = runErr.Error()
		}
		if err := writeJSON(out, view); err != nil {
			return err
		}
		return runErr
	}

	printSteps(out, result.Transcript)
	fmt.Fprintf(out, "\nSession %s: %d rounds, ended in %s, %d tokens\n",
		result.SessionID, result.Rounds, result.Phase, result.Usage.TotalTokens)
	for _, c := range candidates {
		kind := c.Kind
		if kind == "" {
			kind = "note"
		}
		fmt.Fprintf(out, "  [%s] %s\n", kind, c.Title)
	}
	if result.FinalText != "" {
		fmt.Fprintf(out, "\n%s\n", result.FinalText)
	}
	if be.replayer != nil && opts.strict {
		printMismatches(out, mismatches)
	}
	return runErr
}

// printMismatches reports where replayed requests drifted from the tape.
func printMismatches(out io.Writer, mismatches []tape.Mismatch) {
	if len(mismatches) == 0 {
		fmt.Fprintln(out, "\nReplay matched the recording.")
		return
	}
	fmt.Fprintf(out, "\nReplay mismatches (%d):\n", len(mismatches))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  TURN\tFIELD\tRECORDED\tACTUAL")
	for _, m := range mismatches {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", m.TurnIndex, m.Field, m.Expected, m.Actual)
	}
	_ = w.Flush()
}

// sessionProvider returns the backend for a run: a tape replayer, the
// configured provider, or the provider wrapped in a recorder.
func sessionProvider(ctx context.Context, cfg *config.Config, opts runOptions, logger *slog.Logger) (*backend, error) {
	if opts.replay != "" {
		recorded, err := tape.Load(opts.replay)
		if err != nil {
			return nil, err
		}
		summary := recorded.Summary()
		logger.Info("replaying tape",
			"path", opts.replay,
			"recorded_provider", summary.Provider,
			"turns", summary.TurnCount,
			"strict", opts.strict,
		)
		replayer := tape.NewReplayer(recorded)
		if opts.strict {
			replayer.WithMode(tape.ReplayStrict)
		}
		return &backend{provider: replayer, replayer: replayer, turns: summary.TurnCount}, nil
	}
	name, pc, err := selectProvider(cfg, opts.provider)
	if err != nil {
		return nil, err
	}
	if opts.model != "" {
		pc.DefaultModel = opts.model
	}
	provider, err := newProvider(ctx, name, pc, logger)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	if opts.record == "" {
		return &backend{provider: provider}, nil
	}
	recorder := tape.NewRecorder(provider)
	return &backend{provider: recorder, recorder: recorder}, nil
}

func saveTranscript(ctx context.Context, path string, provider agent.ProviderAdapter, result *agent.SessionResult, candidates []models.Candidate, logger *slog.Logger) error {
	store, err := transcripts.Open(transcripts.Config{Path: path, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(context.WithoutCancel(ctx), &transcripts.Record{
		SessionID:  result.SessionID,
		Provider:   provider.Name(),
		Model:      provider.Model(),
		Phase:      string(result.Phase),
		Rounds:     result.Rounds,
		FinalText:  result.FinalText,
		Usage:      result.Usage,
		Messages:   result.Transcript,
		Compaction: result.CompactionLog,
		Candidates: candidates,
	})
}

// printSteps lists every tool call in conversation order.
func printSteps(out io.Writer, messages []models.Message) {
	for _, msg := range messages {
		if !msg.HasToolCalls() {
			continue
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(out, "  %s\n", tools.DescribeCall(call))
		}
	}
}

func printTools(out io.Writer, root string, jsonOutput bool) error {
	registry, err := newToolRegistry(config.WorkspaceConfig{Root: root}, submit.NewCollector(), nil, discardLogger())
	if err != nil {
		return err
	}
	schemas := registry.ToolSchemas()
	if jsonOutput {
		return writeJSON(out, schemas)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, s := range schemas {
		fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
	}
	return w.Flush()
}

func printConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func validateConfig(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (version %d, default provider %s)\n", path, cfg.Version, cfg.LLM.DefaultProvider)
	return nil
}

func openStore(path string) (*transcripts.Store, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Transcripts.Path == "" {
		return nil, errors.New("transcripts.path is not configured")
	}
	if _, err := os.Stat(cfg.Transcripts.Path); err != nil {
		return nil, fmt.Errorf("open transcripts: %w", err)
	}
	return transcripts.Open(transcripts.Config{Path: cfg.Transcripts.Path})
}

func listTranscripts(ctx context.Context, out io.Writer, configPath string, limit int) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	summaries, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCREATED\tPROVIDER\tMODEL\tPHASE\tROUNDS\tCANDIDATES")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.SessionID, s.CreatedAt.Local().Format(time.DateTime), s.Provider, s.Model, s.Phase, s.Rounds, s.Candidates)
	}
	return w.Flush()
}

func showTranscript(ctx context.Context, out io.Writer, configPath, sessionID string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	rec, err := store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s (%s/%s), %d rounds, ended in %s\n", rec.SessionID, rec.Provider, rec.Model, rec.Rounds, rec.Phase)
	printSteps(out, rec.Messages)
	for _, ev := range rec.Compaction {
		fmt.Fprintf(out, "  compaction %s: %d -> %d tokens\n", ev.Level, ev.TokensBefore, ev.TokensAfter)
	}
	for _, c := range rec.Candidates {
		fmt.Fprintf(out, "\n## %s\n%s\n", c.Title, c.Summary)
		for _, e := range c.Evidence {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	if rec.FinalText != "" {
		fmt.Fprintf(out, "\n%s\n", rec.FinalText)
	}
	return nil
}

func deleteTranscript(ctx context.Context, out io.Writer, configPath, sessionID string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Delete(ctx, sessionID); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", sessionID)
	return nil
}

func embedText(ctx context.Context, out io.Writer, configPath, override string, texts []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	name, pc, err := selectProvider(cfg, override)
	if err != nil {
		return err
	}
	provider, err := newProvider(ctx, name, pc, logger)
	if err != nil {
		return err
	}
	embedder, ok := provider.(agent.Embedder)
	if !ok || !provider.SupportsEmbedding() {
		return fmt.Errorf("%s: %w", name, agent.ErrEmbeddingUnsupported)
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for i, v := range vectors {
		fmt.Fprintf(out, "%d\t%d dims\t%q\n", i, len(v), texts[i])
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
