// Package observability wires the ambient telemetry of a lore session:
// structured logging with secret redaction, Prometheus metrics for the agent
// loop, and OpenTelemetry tracing.
//
// # Logging
//
// NewLogger builds a single *slog.Logger that every component receives
// through its Logger field. Records pass through a redacting handler that
// scrubs API keys, bearer tokens and other secrets from the message and from
// string, error and map attributes before they reach the output.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//
// # Metrics
//
// AgentMetrics registers its collectors on the Registerer it is given and
// implements agent.Observer, so a session reports LLM calls, compactions,
// phase transitions and context usage without knowing about Prometheus.
// Tool executions are reported through ObserveTool, which matches
// agent.ToolObserver.
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewAgentMetrics(reg)
//	registry := agent.NewToolRegistry(agent.WithToolObserver(metrics.ObserveTool))
//
// # Tracing
//
// NewTracer installs an OTLP gRPC exporter as the global tracer provider
// when an endpoint is configured. Without one, spans go to the no-op
// provider. Provider adapters start their spans from the global provider.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "lore",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
package observability
