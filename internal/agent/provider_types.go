package agent

import (
	"context"

	"github.com/haasonsaas/lore/pkg/models"
)

// ProviderAdapter translates the backend-independent conversation into one
// LLM backend's wire protocol and back.
//
// Each backend imposes its own shape on the same logical conversation:
// strict role alternation, a system prompt that lives outside the message
// list, or a flat role list linked by tool-call ids. Adapters hide those
// differences so the session loop never branches on backend identity.
//
// Implementations must be safe for concurrent use, although a single session
// never has two calls in flight.
//
// See Also:
//   - providers.GeminiAdapter for strict role alternation
//   - providers.AnthropicAdapter for the side-channel system prompt
//   - providers.OpenAIAdapter for the flat role list
type ProviderAdapter interface {
	// Name returns the provider name ("gemini", "anthropic", "openai").
	Name() string

	// Model returns the model id requests are sent to.
	Model() string

	// Chat runs a plain completion without tools and returns the reply text.
	Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error)

	// ChatWithTools runs one tool-enabled turn. Malformed or empty replies
	// yield an empty result rather than an error.
	ChatWithTools(ctx context.Context, req *ToolChatRequest) (*ChatResult, error)

	// SupportsEmbedding reports whether the backend exposes a text
	// embedding endpoint.
	SupportsEmbedding() bool
}

// Embedder is implemented by adapters whose backend can embed text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatOptions configures a plain completion.
type ChatOptions struct {
	// History holds earlier turns sent before the prompt.
	History      []models.Message
	SystemPrompt string
	// Temperature is left to the backend default when nil.
	Temperature *float64
	MaxTokens   int
}

// ToolChatRequest is one tool-enabled turn.
type ToolChatRequest struct {
	// Prompt is sent as a single user turn when Messages is empty.
	Prompt string

	Messages     []models.Message
	Tools        []models.ToolSchema
	ToolChoice   models.ToolChoice
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
}

// ConversationMessages returns Messages, or a single user turn holding
// Prompt when Messages is empty.
func (r *ToolChatRequest) ConversationMessages() []models.Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	if r.Prompt == "" {
		return nil
	}
	return []models.Message{{Role: models.RoleUser, Content: r.Prompt}}
}

// ChatResult is the unified reply of one tool-enabled turn.
type ChatResult struct {
	Text          string            `json:"text"`
	FunctionCalls []models.ToolCall `json:"function_calls,omitempty"`
	// Usage is nil when the backend did not report token counts.
	Usage *models.Usage `json:"usage,omitempty"`
}

// HasFunctionCalls reports whether the reply requested any tool.
func (r *ChatResult) HasFunctionCalls() bool {
	return r != nil && len(r.FunctionCalls) > 0
}
