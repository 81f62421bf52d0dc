package agent

import "errors"

// Common sentinel errors for agent operations
var (
	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrMissingName indicates a tool was registered without a name
	ErrMissingName = errors.New("tool name is required")

	// ErrMissingHandler indicates a tool was registered without a handler
	ErrMissingHandler = errors.New("tool handler is required")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrNoProvider indicates no provider adapter is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrNoTools indicates a session was created without a tool registry
	ErrNoTools = errors.New("no tool registry configured")

	// ErrEmbeddingUnsupported indicates the backend has no embedding endpoint
	ErrEmbeddingUnsupported = errors.New("embedding not supported by provider")
)
