package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/agent/providers"
	"github.com/haasonsaas/lore/internal/backoff"
	"github.com/haasonsaas/lore/internal/config"
	"github.com/haasonsaas/lore/internal/observability"
	"github.com/haasonsaas/lore/internal/tools/files"
	"github.com/haasonsaas/lore/internal/tools/submit"
)

const defaultSystemPrompt = `You are lore, an engineer onboarding onto an unfamiliar code base.
Explore the project with the file tools, then record what a new contributor
must know with submit_knowledge: one call per distinct decision, convention,
gotcha or workflow, each backed by file references. Prefer depth over breadth
and never submit the same insight twice.`

// newProvider builds the adapter for a configured backend.
func newProvider(ctx context.Context, name string, pc config.ProviderConfig, logger *slog.Logger) (agent.ProviderAdapter, error) {
	cfg := providers.Config{
		APIKey:         pc.APIKey,
		BaseURL:        pc.BaseURL,
		Model:          pc.DefaultModel,
		EmbeddingModel: pc.EmbeddingModel,
		Timeout:        pc.Timeout,
		MaxRetries:     pc.MaxRetries,
		Logger:         logger.With("provider", name),
	}
	if pc.RetryDelay > 0 {
		policy := backoff.ProviderPolicy()
		policy.Initial = pc.RetryDelay
		cfg.RetryPolicy = &policy
	}

	switch name {
	case config.ProviderAnthropic:
		p, err := providers.NewAnthropicAdapter(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderGemini:
		p, err := providers.NewGeminiAdapter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderOpenAI:
		p, err := providers.NewOpenAIAdapter(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// selectProvider picks the override or the default provider and checks it
// is usable.
func selectProvider(cfg *config.Config, override string) (string, config.ProviderConfig, error) {
	name := cfg.LLM.DefaultProvider
	if override != "" {
		name = override
	}
	pc, ok := cfg.LLM.Providers[name]
	if !ok {
		return "", config.ProviderConfig{}, fmt.Errorf("provider %q is not configured under llm.providers", name)
	}
	if pc.APIKey == "" {
		return "", config.ProviderConfig{}, fmt.Errorf("llm.providers.%s.api_key is required", name)
	}
	return name, pc, nil
}

// newToolRegistry registers the built-in tools. Accepted candidates go to sink.
func newToolRegistry(ws config.WorkspaceConfig, sink submit.Sink, metrics *observability.AgentMetrics, logger *slog.Logger) (*agent.ToolRegistry, error) {
	opts := []agent.RegistryOption{agent.WithRegistryLogger(logger)}
	if metrics != nil {
		opts = append(opts, agent.WithToolObserver(metrics.ObserveTool))
	}
	registry := agent.NewToolRegistry(opts...)
	if err := files.Register(registry, files.Config{Root: ws.Root, MaxFileBytes: ws.MaxFileBytes}); err != nil {
		return nil, err
	}
	if err := registry.Register(submit.New(sink).Definition()); err != nil {
		return nil, err
	}
	return registry, nil
}

// startMetricsServer serves reg on /metrics until the returned server is closed.
func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)
	return server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
