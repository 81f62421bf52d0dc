package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/agent/toolconv"
	"github.com/haasonsaas/lore/internal/backoff"
	"github.com/haasonsaas/lore/pkg/models"
)

const (
	geminiDefaultModel          = "gemini-2.0-flash"
	geminiDefaultEmbeddingModel = "text-embedding-004"
)

// GeminiAdapter talks to the Gemini API.
//
// Gemini requires strict alternation between the user and model roles, so
// consecutive entries with the same role are merged into one content entry
// and tool results travel as function-response parts of a user entry. The
// API keys function responses by function name rather than call id, and it
// does not always assign call ids, so ids are synthesized on the way in.
//
// Every call is wrapped in the retry helper with exponential backoff.
type GeminiAdapter struct {
	client *genai.Client
	cfg    Config
	retry  backoff.Retrier
}

// NewGeminiAdapter creates a Gemini adapter.
func NewGeminiAdapter(ctx context.Context, cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	cfg = cfg.withDefaults(geminiDefaultModel, geminiDefaultEmbeddingModel)

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiAdapter{
		client: client,
		cfg:    cfg,
		retry:  cfg.retrier("gemini"),
	}, nil
}

// Name returns "gemini".
func (p *GeminiAdapter) Name() string { return "gemini" }

// Model returns the configured chat model.
func (p *GeminiAdapter) Model() string { return p.cfg.Model }

// SupportsEmbedding reports true; Gemini has an embedding endpoint.
func (p *GeminiAdapter) SupportsEmbedding() bool { return true }

// Chat runs a plain completion.
func (p *GeminiAdapter) Chat(ctx context.Context, prompt string, opts agent.ChatOptions) (string, error) {
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
func (p *GeminiAdapter) ChatWithTools(ctx context.Context, req *agent.ToolChatRequest) (*agent.ChatResult, error) {
	contents := convertGeminiMessages(req.ConversationMessages())
	config := buildGeminiConfig(req)

	ctx, span := startSpan(ctx, "chat_with_tools", p.Name(), p.cfg.Model, chatShape{
		choice: req.ToolChoice, tools: len(req.Tools), messages: len(contents),
	})
	resp, err := backoff.Do(ctx, p.retry, func(ctx context.Context, _ int) (*genai.GenerateContentResponse, error) {
		return callWithTimeout(ctx, p.cfg.Timeout, p.Name(), p.cfg.Model, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
			out, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
			return out, p.wrapError(err)
		})
	})
	if err != nil {
		endSpan(span, nil, err)
		return nil, err
	}

	result := parseGeminiResponse(resp)
	endSpan(span, result.Usage, nil)
	return result, nil
}

// Embed returns one vector per input text.
func (p *GeminiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := backoff.Do(ctx, p.retry, func(ctx context.Context, _ int) (*genai.EmbedContentResponse, error) {
		return callWithTimeout(ctx, p.cfg.Timeout, p.Name(), p.cfg.EmbeddingModel, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
			out, err := p.client.Models.EmbedContent(ctx, p.cfg.EmbeddingModel, contents, nil)
			return out, p.wrapError(err)
		})
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, NewProviderError(p.Name(), p.cfg.EmbeddingModel, fmt.Errorf("expected %d embeddings", len(texts)))
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e != nil {
			vectors[i] = e.Values
		}
	}
	return vectors, nil
}

// convertGeminiMessages maps the conversation onto alternating user/model
// entries.
func convertGeminiMessages(messages []models.Message) []*genai.Content {
	callNames := make(map[string]string)
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	var result []*genai.Content
	for _, msg := range messages {
		var role string
		var parts []*genai.Part

		switch msg.Role {
		case models.RoleSystem:
			// Carried by SystemInstruction.
			continue
		case models.RoleAssistant:
			role = genai.RoleModel
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
			}
		case models.RoleTool:
			role = genai.RoleUser
			name := msg.Name
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     name,
				Response: geminiResponsePayload(msg.Content),
			}})
		default:
			role = genai.RoleUser
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
		}

		if len(parts) == 0 {
			continue
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Parts = append(result[n-1].Parts, parts...)
			continue
		}
		result = append(result, &genai.Content{Role: role, Parts: parts})
	}
	return result
}

func geminiResponsePayload(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"output": content}
}

func buildGeminiConfig(req *agent.ToolChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: geminiCallingMode(req.ToolChoice)},
		}
	}
	return config
}

func geminiCallingMode(choice models.ToolChoice) genai.FunctionCallingConfigMode {
	switch choice {
	case models.ToolChoiceRequired:
		return genai.FunctionCallingConfigModeAny
	case models.ToolChoiceNone:
		return genai.FunctionCallingConfigModeNone
	default:
		return genai.FunctionCallingConfigModeAuto
	}
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) *agent.ChatResult {
	result := &agent.ChatResult{}
	if resp == nil {
		return result
	}
	if meta := resp.UsageMetadata; meta != nil {
		result.Usage = normalizedUsage(int(meta.PromptTokenCount), int(meta.CandidatesTokenCount), int(meta.TotalTokenCount))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return result
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil && fc.Name != "" {
			id := fc.ID
			if id == "" {
				id = agent.NewToolCallID()
			}
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			result.FunctionCalls = append(result.FunctionCalls, models.ToolCall{ID: id, Name: fc.Name, Args: args})
		}
	}
	result.Text = text.String()
	return result
}

func (p *GeminiAdapter) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(p.Name(), p.cfg.Model, err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.Code)
		if apiErr.Status != "" {
			providerErr = providerErr.WithCode(apiErr.Status)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
	}
	return providerErr
}
