package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/agent/toolconv"
	"github.com/haasonsaas/lore/pkg/models"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// AnthropicAdapter talks to the Anthropic Messages API.
//
// The system prompt travels in the dedicated system field. Tool results are
// tool_result blocks inside user messages. When the tool choice is "none" the
// tool definitions and the choice are both left out of the request.
//
// Retries are disabled on this adapter, both in the SDK client and in our
// own wrapper: a failed call is surfaced to the caller as is.
type AnthropicAdapter struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropicAdapter creates an Anthropic adapter.
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	cfg = cfg.withDefaults(anthropicDefaultModel, "")

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicAdapter{
		client: anthropic.NewClient(options...),
		cfg:    cfg,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicAdapter) Name() string { return "anthropic" }

// Model returns the configured chat model.
func (p *AnthropicAdapter) Model() string { return p.cfg.Model }

// SupportsEmbedding reports false.
func (p *AnthropicAdapter) SupportsEmbedding() bool { return false }

// Embed always fails; Anthropic has no embedding endpoint.
func (p *AnthropicAdapter) Embed(context.Context, []string) ([][]float32, error) {
	return nil, agent.ErrEmbeddingUnsupported
}

// Chat runs a plain completion.
func (p *AnthropicAdapter) Chat(ctx context.Context, prompt string, opts agent.ChatOptions) (string, error) {
	messages := append(append([]models.Message{}, opts.History...), models.Message{Role: models.RoleUser, Content: prompt})
	res, err := p.ChatWithTools(ctx, &agent.ToolChatRequest{
		Messages:     messages,
		SystemPrompt: opts.SystemPrompt,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
		ToolChoice:   models.ToolChoiceNone,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// ChatWithTools runs one tool-enabled turn.
func (p *AnthropicAdapter) ChatWithTools(ctx context.Context, req *agent.ToolChatRequest) (*agent.ChatResult, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewProviderError(p.Name(), p.cfg.Model, err)
	}

	ctx, span := startSpan(ctx, "chat_with_tools", p.Name(), p.cfg.Model, chatShape{
		choice: req.ToolChoice, tools: len(params.Tools), messages: len(params.Messages),
	})
	msg, err := callWithTimeout(ctx, p.cfg.Timeout, p.Name(), p.cfg.Model, func(ctx context.Context) (*anthropic.Message, error) {
		out, err := p.client.Messages.New(ctx, params)
		return out, p.wrapError(err)
	})
	if err != nil {
		endSpan(span, nil, err)
		return nil, err
	}

	result := parseAnthropicMessage(msg)
	endSpan(span, result.Usage, nil)
	return result, nil
}

func (p *AnthropicAdapter) buildParams(req *agent.ToolChatRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  convertAnthropicMessages(req.ConversationMessages()),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	if len(req.Tools) == 0 || req.ToolChoice == models.ToolChoiceNone {
		return params, nil
	}
	tools, err := toolconv.ToAnthropicTools(req.Tools)
	if err != nil {
		return params, err
	}
	params.Tools = tools
	if req.ToolChoice == models.ToolChoiceRequired {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	} else {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
	return params, nil
}

// convertAnthropicMessages maps the conversation onto user/assistant
// messages, folding tool results into user turns.
func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	push := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, blocks...)
			return
		}
		result = append(result, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks)
		case models.RoleTool:
			push(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isErrorPayload(msg.Content)),
			})
		default:
			if msg.Content == "" {
				continue
			}
			push(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)})
		}
	}
	return result
}

// isErrorPayload reports whether a tool result is the {"error": ...} shape
// produced for failed tools.
func isErrorPayload(content string) bool {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return false
	}
	_, ok := payload["error"]
	return ok && len(payload) == 1
}

func parseAnthropicMessage(msg *anthropic.Message) *agent.ChatResult {
	result := &agent.ChatResult{}
	if msg == nil {
		return result
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			id := block.ID
			if id == "" {
				id = agent.NewToolCallID()
			}
			result.FunctionCalls = append(result.FunctionCalls, models.ToolCall{
				ID:   id,
				Name: block.Name,
				Args: models.ParseToolArgs(string(block.Input)),
			})
		}
	}
	result.Text = text.String()
	result.Usage = normalizedUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), 0)
	return result
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicAdapter) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(p.Name(), p.cfg.Model, err)

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return providerErr
	}
	providerErr = providerErr.WithStatus(apiErr.StatusCode)
	requestID := apiErr.RequestID
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if providerErr.Message == "" {
		providerErr.Message = "anthropic request failed"
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}
