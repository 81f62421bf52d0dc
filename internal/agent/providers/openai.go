package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/agent/toolconv"
	"github.com/haasonsaas/lore/internal/backoff"
	"github.com/haasonsaas/lore/pkg/models"
)

const (
	openAIDefaultModel          = "gpt-4o"
	openAIDefaultEmbeddingModel = string(openai.SmallEmbedding3)
)

// OpenAIAdapter talks to the OpenAI chat completions API and any backend
// that speaks the same wire format.
//
// The conversation is a flat role list: an optional system message, then
// user, assistant and tool entries. Assistant tool calls carry ids and each
// tool message names the id it answers.
type OpenAIAdapter struct {
	client *openai.Client
	cfg    Config
	retry  backoff.Retrier
}

// NewOpenAIAdapter creates an OpenAI adapter.
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg = cfg.withDefaults(openAIDefaultModel, openAIDefaultEmbeddingModel)

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		retry:  cfg.retrier("openai"),
	}, nil
}

// Name returns "openai".
func (p *OpenAIAdapter) Name() string { return "openai" }

// Model returns the configured chat model.
func (p *OpenAIAdapter) Model() string { return p.cfg.Model }

// SupportsEmbedding reports true.
func (p *OpenAIAdapter) SupportsEmbedding() bool { return true }

// Chat runs a plain completion.
func (p *OpenAIAdapter) Chat(ctx context.Context, prompt string, opts agent.ChatOptions) (string, error) {
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
func (p *OpenAIAdapter) ChatWithTools(ctx context.Context, req *agent.ToolChatRequest) (*agent.ChatResult, error) {
	chatReq := p.buildRequest(req)

	ctx, span := startSpan(ctx, "chat_with_tools", p.Name(), p.cfg.Model, chatShape{
		choice: req.ToolChoice, tools: len(chatReq.Tools), messages: len(chatReq.Messages),
	})
	resp, err := backoff.Do(ctx, p.retry, func(ctx context.Context, _ int) (openai.ChatCompletionResponse, error) {
		return callWithTimeout(ctx, p.cfg.Timeout, p.Name(), p.cfg.Model, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			out, err := p.client.CreateChatCompletion(ctx, chatReq)
			return out, p.wrapError(err, p.cfg.Model)
		})
	})
	if err != nil {
		endSpan(span, nil, err)
		return nil, err
	}

	result := parseOpenAIResponse(resp)
	endSpan(span, result.Usage, nil)
	return result, nil
}

func (p *OpenAIAdapter) buildRequest(req *agent.ToolChatRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:     p.cfg.Model,
		Messages:  convertOpenAIMessages(req.SystemPrompt, req.ConversationMessages()),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if tools := toolconv.ToOpenAITools(req.Tools); len(tools) > 0 {
		chatReq.Tools = tools
		choice := req.ToolChoice
		if choice == "" {
			choice = models.ToolChoiceAuto
		}
		chatReq.ToolChoice = string(choice)
	}
	return chatReq
}

func convertOpenAIMessages(systemPrompt string, messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgsJSON(),
					},
				})
			}
			result = append(result, out)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func parseOpenAIResponse(resp openai.ChatCompletionResponse) *agent.ChatResult {
	result := &agent.ChatResult{
		Usage: normalizedUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens),
	}
	if len(resp.Choices) == 0 {
		return result
	}
	msg := resp.Choices[0].Message
	result.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		id := tc.ID
		if id == "" {
			id = agent.NewToolCallID()
		}
		result.FunctionCalls = append(result.FunctionCalls, models.ToolCall{
			ID:   id,
			Name: tc.Function.Name,
			Args: models.ParseToolArgs(tc.Function.Arguments),
		})
	}
	return result
}

// Embed returns one vector per input text, in input order.
func (p *OpenAIAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := p.cfg.EmbeddingModel
	resp, err := backoff.Do(ctx, p.retry, func(ctx context.Context, _ int) (openai.EmbeddingResponse, error) {
		return callWithTimeout(ctx, p.cfg.Timeout, p.Name(), model, func(ctx context.Context) (openai.EmbeddingResponse, error) {
			out, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: texts,
				Model: openai.EmbeddingModel(model),
			})
			return out, p.wrapError(err, model)
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, NewProviderError(p.Name(), model, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}
	vectors := make([][]float32, len(texts))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = item.Embedding
	}
	return vectors, nil
}

func (p *OpenAIAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(p.Name(), model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		providerErr = providerErr.WithStatus(reqErr.HTTPStatusCode)
	}
	return providerErr
}
