package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/lore/pkg/models"
)

// ToolHandler executes a tool. params holds normalized argument names;
// toolCtx is passed through untouched from the caller.
type ToolHandler func(ctx context.Context, params map[string]any, toolCtx any) (any, error)

// ToolDefinition describes a callable tool.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
	Handler    ToolHandler
}

// ToolOutcome is the result of one tool execution. Handler failures are
// reported through Error instead of a Go error.
type ToolOutcome struct {
	Name     string
	Params   map[string]any
	Result   any
	Error    string
	Duration time.Duration
}

// IsError reports whether the handler failed.
func (o *ToolOutcome) IsError() bool {
	return o != nil && o.Error != ""
}

// Payload returns the value to feed back into the conversation.
func (o *ToolOutcome) Payload() any {
	if o.IsError() {
		return map[string]any{"error": o.Error}
	}
	return o.Result
}

// ToolObserver is notified after every execution.
type ToolObserver func(name string, duration time.Duration, failed bool)

type registeredTool struct {
	def      ToolDefinition
	schema   *jsonschema.Schema
	declared []string
}

// ToolRegistry manages available tools with thread-safe registration and lookup.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]*registeredTool
	logger   *slog.Logger
	observer ToolObserver
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithToolObserver sets a callback invoked after each execution.
func WithToolObserver(observer ToolObserver) RegistryOption {
	return func(r *ToolRegistry) {
		r.observer = observer
	}
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:  make(map[string]*registeredTool),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. If a tool with the same name already exists, it is
// replaced, so tests can override real tools.
func (r *ToolRegistry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return ErrMissingName
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %s", ErrMissingHandler, def.Name)
	}

	entry := &registeredTool{def: def, declared: declaredParams(def.Parameters)}
	if len(def.Parameters) > 0 {
		schema, err := compileToolSchema(def.Name, def.Parameters)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", def.Name, err)
		}
		entry.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		r.logger.Debug("tool re-registered", "tool", def.Name)
	}
	r.tools[def.Name] = entry
	return nil
}

// Has reports whether a tool is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSchemas returns the public schemas, sorted by name. When allowed is
// non-empty only the listed tools are returned.
func (r *ToolRegistry) ToolSchemas(allowed ...string) []models.ToolSchema {
	var filter map[string]bool
	if len(allowed) > 0 {
		filter = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			filter[name] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]models.ToolSchema, 0, len(r.tools))
	for name, entry := range r.tools {
		if filter != nil && !filter[name] {
			continue
		}
		schemas = append(schemas, models.ToolSchema{
			Name:        name,
			Description: entry.def.Description,
			Parameters:  entry.def.Parameters,
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Execute runs a tool. Only an unknown tool name is returned as an error;
// invalid arguments, handler errors and panics become an outcome with Error set.
func (r *ToolRegistry) Execute(ctx context.Context, name string, rawParams map[string]any, toolCtx any) (*ToolOutcome, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	params := NormalizeParams(rawParams, entry.declared)
	outcome := &ToolOutcome{Name: name, Params: params}
	start := time.Now()
	defer func() {
		outcome.Duration = time.Since(start)
		if r.observer != nil {
			r.observer(name, outcome.Duration, outcome.IsError())
		}
	}()

	if entry.schema != nil {
		if err := validateParams(entry.schema, params); err != nil {
			outcome.Error = fmt.Sprintf("invalid parameters for %s: %v", name, err)
			r.logger.Warn("tool parameters rejected", "tool", name, "error", err)
			return outcome, nil
		}
	}

	result, err := invokeHandler(ctx, entry.def.Handler, params, toolCtx)
	if err != nil {
		outcome.Error = err.Error()
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return outcome, nil
	}
	outcome.Result = result
	return outcome, nil
}

func invokeHandler(ctx context.Context, handler ToolHandler, params map[string]any, toolCtx any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrToolPanic, rec)
		}
	}()
	return handler(ctx, params, toolCtx)
}

func compileToolSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(name+".schema.json", string(payload))
}

// validateParams round-trips params through JSON so the validator only
// sees JSON-native values.
func validateParams(schema *jsonschema.Schema, params map[string]any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return schema.Validate(decoded)
}

func declaredParams(schema map[string]any) []string {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
