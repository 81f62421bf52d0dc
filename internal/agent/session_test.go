package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	agentctx "github.com/haasonsaas/lore/internal/agent/context"
	"github.com/haasonsaas/lore/internal/agent/routing"
	"github.com/haasonsaas/lore/pkg/models"
)

type scriptedProvider struct {
	replies  []*ChatResult
	err      error
	requests []*ToolChatRequest
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Chat(context.Context, string, ChatOptions) (string, error) {
	return "", nil
}

func (p *scriptedProvider) ChatWithTools(_ context.Context, req *ToolChatRequest) (*ChatResult, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &ChatResult{Text: "done"}, nil
	}
	next := p.replies[0]
	p.replies = p.replies[1:]
	return next, nil
}

func (p *scriptedProvider) SupportsEmbedding() bool { return false }

type recordingObserver struct {
	llmCalls    int
	compactions []string
	transitions []string
}

func (o *recordingObserver) ObserveLLMCall(string, string, time.Duration, *models.Usage, error) {
	o.llmCalls++
}
func (o *recordingObserver) ObserveCompaction(level string) {
	o.compactions = append(o.compactions, level)
}
func (o *recordingObserver) ObservePhaseTransition(from, to string) {
	o.transitions = append(o.transitions, from+"->"+to)
}
func (o *recordingObserver) ObserveContextUsage(float64) {}

func testRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	r := NewToolRegistry()
	err := r.Register(ToolDefinition{
		Name: "search_code",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"pattern": map[string]any{"type": "string"}},
		},
		Handler: func(_ context.Context, params map[string]any, _ any) (any, error) {
			return map[string]any{"matches": []any{map[string]any{"file": "a.go", "text": params["pattern"]}}}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = r.Register(ToolDefinition{
		Name: "submit_knowledge",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
			"required":   []any{"title"},
		},
		Handler: func(context.Context, map[string]any, any) (any, error) {
			return map[string]any{"status": "accepted"}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func call(id, name string, args map[string]any) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Args: args}
}

func TestSession_RunThroughAllPhases(t *testing.T) {
	provider := &scriptedProvider{replies: []*ChatResult{
		{FunctionCalls: []models.ToolCall{call("c1", "search_code", map[string]any{"query": "Retry"})}, Usage: &models.Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}},
		{FunctionCalls: []models.ToolCall{call("c2", "search_code", map[string]any{"pattern": "Backoff"})}, Usage: &models.Usage{InputTokens: 20, OutputTokens: 3, TotalTokens: 23}},
		{FunctionCalls: []models.ToolCall{call("c3", "submit_knowledge", map[string]any{"title": "Retry policy"})}},
		{Text: "Captured the retry policy."},
	}}
	obs := &recordingObserver{}
	s, err := NewSession(SessionConfig{
		Provider:     provider,
		Tools:        testRegistry(t),
		TokenBudget:  100000,
		SystemPrompt: "You are a code explorer.",
		Observer:     obs,
		Budget: routing.Budget{
			MaxIterations:     10,
			SearchBudget:      2,
			SearchBudgetGrace: 3,
			MaxSubmits:        1,
			SoftSubmitLimit:   1,
			IdleRoundsToExit:  2,
		},
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	res, err := s.Run(context.Background(), "Document the retry behavior.")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rounds != 4 || res.Phase != routing.PhaseSummarize {
		t.Errorf("Rounds = %d, Phase = %s; want 4, SUMMARIZE", res.Rounds, res.Phase)
	}
	if res.FinalText != "Captured the retry policy." {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if len(res.Submits) != 1 || res.Submits[0] != "Retry policy" {
		t.Errorf("Submits = %v", res.Submits)
	}
	if res.Usage.TotalTokens != 35 || res.Usage.InputTokens != 30 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if len(res.Transcript) != 8 {
		t.Errorf("len(Transcript) = %d, want 8", len(res.Transcript))
	}
	if !strings.Contains(res.Transcript[2].Content, "Retry") {
		t.Errorf("normalized query did not reach the handler: %q", res.Transcript[2].Content)
	}

	wantChoices := []models.ToolChoice{models.ToolChoiceRequired, models.ToolChoiceAuto, models.ToolChoiceAuto, models.ToolChoiceNone}
	for i, req := range provider.requests {
		if req.ToolChoice != wantChoices[i] {
			t.Errorf("request %d ToolChoice = %s, want %s", i, req.ToolChoice, wantChoices[i])
		}
		if !strings.HasPrefix(req.SystemPrompt, "You are a code explorer.") {
			t.Errorf("request %d system prompt = %q", i, req.SystemPrompt)
		}
		if req.Messages[0].Content != "Document the retry behavior." {
			t.Errorf("request %d lost the prompt", i)
		}
	}
	if !strings.Contains(provider.requests[2].SystemPrompt, "not submitted") {
		t.Errorf("PRODUCE hint missing: %q", provider.requests[2].SystemPrompt)
	}
	if obs.llmCalls != 4 || len(obs.transitions) != 2 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestSession_UnknownToolBecomesInlineError(t *testing.T) {
	provider := &scriptedProvider{replies: []*ChatResult{
		{FunctionCalls: []models.ToolCall{call("c1", "delete_repo", nil)}},
	}}
	s, err := NewSession(SessionConfig{Provider: provider, Tools: testRegistry(t), TokenBudget: 10000})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := res.Transcript[2]
	if got.Role != models.RoleTool || !strings.Contains(got.Content, "tool not found: delete_repo") {
		t.Errorf("tool result = %+v", got)
	}
}

func TestSession_ConfiguredSubmitToolUsesFixedCeiling(t *testing.T) {
	tools := testRegistry(t)
	long := strings.Repeat("f", 2000)
	if err := tools.Register(ToolDefinition{
		Name:       "record_finding",
		Parameters: map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any, any) (any, error) {
			return long, nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{replies: []*ChatResult{
		{FunctionCalls: []models.ToolCall{call("c1", "record_finding", map[string]any{"title": "Finding"})}},
	}}
	s, err := NewSession(SessionConfig{
		Provider:    provider,
		Tools:       tools,
		TokenBudget: 100000,
		SubmitTools: []string{"record_finding"},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := res.Transcript[2].Content
	if strings.Count(got, "f") > SubmitResultLimit+5 {
		t.Errorf("record_finding result kept %d chars, want at most %d", len(got), SubmitResultLimit)
	}
	if !strings.Contains(got, "[truncated: original 2000 chars]") {
		t.Errorf("missing truncation marker in %q", got)
	}
	if len(res.Submits) != 1 || res.Submits[0] != "Finding" {
		t.Errorf("Submits = %v", res.Submits)
	}
}

func TestSession_CancelMidRoundAnswersPendingCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tools := NewToolRegistry()
	if err := tools.Register(ToolDefinition{
		Name:       "search_code",
		Parameters: map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any, any) (any, error) {
			cancel()
			return map[string]any{"matches": []any{}}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{replies: []*ChatResult{
		{FunctionCalls: []models.ToolCall{
			call("c1", "search_code", map[string]any{"pattern": "a"}),
			call("c2", "search_code", map[string]any{"pattern": "b"}),
		}},
	}}
	s, err := NewSession(SessionConfig{Provider: provider, Tools: tools, TokenBudget: 10000, SessionID: "sess-fixed"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(ctx, "task")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.SessionID != "sess-fixed" {
		t.Errorf("SessionID = %q, want sess-fixed", res.SessionID)
	}
	if len(res.Transcript) != 4 {
		t.Fatalf("len(Transcript) = %d, want 4", len(res.Transcript))
	}
	second := res.Transcript[3]
	if second.ToolCallID != "c2" || !strings.Contains(second.Content, "not executed") {
		t.Errorf("pending call result = %+v", second)
	}
}

func TestSession_ProviderErrorAborts(t *testing.T) {
	boom := errors.New("upstream 500")
	s, err := NewSession(SessionConfig{Provider: &scriptedProvider{err: boom}, Tools: testRegistry(t), TokenBudget: 10000})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background(), "task")
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if res == nil || len(res.Transcript) != 1 {
		t.Errorf("partial result = %+v", res)
	}
}

func TestSession_SynthesizesMissingCallIDs(t *testing.T) {
	provider := &scriptedProvider{replies: []*ChatResult{
		{FunctionCalls: []models.ToolCall{
			call("", "search_code", map[string]any{"pattern": "a"}),
			call("dup", "search_code", map[string]any{"pattern": "b"}),
			call("dup", "search_code", map[string]any{"pattern": "c"}),
		}},
	}}
	s, _ := NewSession(SessionConfig{Provider: provider, Tools: testRegistry(t), TokenBudget: 10000})
	res, err := s.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := res.Transcript[1].ToolCalls
	seen := map[string]bool{}
	for _, c := range calls {
		if c.ID == "" || seen[c.ID] {
			t.Errorf("call id %q missing or repeated", c.ID)
		}
		seen[c.ID] = true
	}
	if !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("synthesized id = %q", calls[0].ID)
	}
}

func TestSession_ResetWhenPromptAloneOverBudget(t *testing.T) {
	big := strings.Repeat("r", 3000)
	provider := &scriptedProvider{replies: []*ChatResult{
		{FunctionCalls: []models.ToolCall{call("c1", "search_code", map[string]any{"pattern": big})}},
		{FunctionCalls: []models.ToolCall{call("c2", "search_code", map[string]any{"pattern": big})}},
		{FunctionCalls: []models.ToolCall{call("c3", "submit_knowledge", map[string]any{"title": "T"})}},
	}}
	obs := &recordingObserver{}
	s, _ := NewSession(SessionConfig{Provider: provider, Tools: testRegistry(t), TokenBudget: 50, Observer: obs})
	if _, err := s.Run(context.Background(), "task"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	found := false
	for _, level := range obs.compactions {
		if level == agentctx.LevelReset.String() {
			found = true
		}
	}
	if !found {
		t.Errorf("compactions = %v, want a reset", obs.compactions)
	}
}

func TestNewSession_Validation(t *testing.T) {
	tools := NewToolRegistry()
	tests := []struct {
		name string
		cfg  SessionConfig
		want error
	}{
		{"no provider", SessionConfig{Tools: tools, TokenBudget: 1}, ErrNoProvider},
		{"no tools", SessionConfig{Provider: &scriptedProvider{}, TokenBudget: 1}, ErrNoTools},
		{"no budget", SessionConfig{Provider: &scriptedProvider{}, Tools: tools}, agentctx.ErrInvalidBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSession(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("NewSession() error = %v, want %v", err, tt.want)
			}
		})
	}
}
