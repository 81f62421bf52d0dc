package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/lore/internal/agent/context"
	"github.com/haasonsaas/lore/internal/agent/routing"
	"github.com/haasonsaas/lore/pkg/models"
)

// continuePrompt keeps alternation-strict backends happy after an
// interim text reply.
const continuePrompt = "Continue."

// Observer receives session telemetry. observability.AgentMetrics implements it.
type Observer interface {
	ObserveLLMCall(provider, model string, duration time.Duration, usage *models.Usage, err error)
	ObserveCompaction(level string)
	ObservePhaseTransition(from, to string)
	ObserveContextUsage(ratio float64)
}

// SessionConfig configures the session loop.
type SessionConfig struct {
	// Provider is the backend adapter. Required.
	Provider ProviderAdapter

	// Tools is the tool catalog. Required.
	Tools *ToolRegistry

	// Budget bounds the phases. Defaults to routing.DefaultBudget.
	Budget routing.Budget

	// SkillOnly sessions skip PRODUCE.
	SkillOnly bool

	// TokenBudget is the conversation buffer budget in estimated tokens. Required.
	TokenBudget int

	// SystemPrompt is the base system prompt; the phase hint is merged into it.
	SystemPrompt string

	Temperature *float64
	MaxTokens   int

	// AllowedTools restricts the schemas offered in a phase. A phase without
	// an entry sees every registered tool.
	AllowedTools map[routing.Phase][]string

	// SubmitTools names terminal tools that do not start with "submit".
	SubmitTools []string

	// ToolContext is passed through to every tool handler.
	ToolContext any

	// SessionID identifies the run; one is generated when empty.
	SessionID string

	Logger   *slog.Logger
	Observer Observer
}

// SessionResult summarizes a finished session.
type SessionResult struct {
	SessionID        string
	FinalText        string
	Rounds           int
	Submits          []string
	Usage            models.Usage
	Phase            routing.Phase
	Transitions      []routing.Transition
	Transcript       []models.Message
	CompactionLog    []agentctx.CompactionEvent
	CompactedSubmits []string
}

// Session runs the explore, produce, summarize loop for one task.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger
}

// NewSession validates cfg and returns a runnable session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Tools == nil {
		return nil, ErrNoTools
	}
	if cfg.TokenBudget <= 0 {
		return nil, agentctx.ErrInvalidBudget
	}
	if cfg.Budget == (routing.Budget{}) {
		cfg.Budget = routing.DefaultBudget()
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{cfg: cfg, logger: logger}, nil
}

// Run drives the loop until the phase router says to stop. Tool calls
// within a round run sequentially. A backend error that survives the
// adapter's own retries ends the session; the partial result is returned
// alongside the error.
func (s *Session) Run(ctx context.Context, prompt string) (*SessionResult, error) {
	sessionID := s.cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := s.logger.With("session_id", sessionID, "provider", s.cfg.Provider.Name())

	window, err := agentctx.NewWindow(prompt, agentctx.Config{
		TokenBudget: s.cfg.TokenBudget,
		SubmitTools: s.cfg.SubmitTools,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	router, err := routing.NewPhaseRouter(routing.Config{
		Budget:    s.cfg.Budget,
		SkillOnly: s.cfg.SkillOnly,
		Logger:    logger,
		OnTransition: func(t routing.Transition) {
			if s.cfg.Observer != nil {
				s.cfg.Observer.ObservePhaseTransition(string(t.From), string(t.To))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	result := &SessionResult{SessionID: sessionID}
	finish := func(runErr error) (*SessionResult, error) {
		result.Rounds = router.TotalRounds()
		result.Phase = router.Phase()
		result.Transitions = router.Transitions()
		result.Transcript = window.ToMessages()
		result.CompactionLog = window.CompactionLog()
		result.CompactedSubmits = window.CompactedSubmits()
		logger.Info("session finished",
			"rounds", result.Rounds,
			"phase", string(result.Phase),
			"submits", len(result.Submits),
			"input_tokens", result.Usage.InputTokens,
			"output_tokens", result.Usage.OutputTokens,
		)
		return result, runErr
	}

	for !router.ShouldExit() {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		s.compact(window, logger)

		phase := router.Phase()
		choice := router.ToolChoice()
		req := &ToolChatRequest{
			Messages:     window.ToMessages(),
			Tools:        s.cfg.Tools.ToolSchemas(s.cfg.AllowedTools[phase]...),
			ToolChoice:   choice,
			SystemPrompt: s.systemPrompt(router, window),
			Temperature:  s.cfg.Temperature,
			MaxTokens:    s.cfg.MaxTokens,
		}

		start := time.Now()
		reply, err := s.cfg.Provider.ChatWithTools(ctx, req)
		if s.cfg.Observer != nil {
			var usage *models.Usage
			if reply != nil {
				usage = reply.Usage
			}
			s.cfg.Observer.ObserveLLMCall(s.cfg.Provider.Name(), s.cfg.Provider.Model(), time.Since(start), usage, err)
		}
		if err != nil {
			logger.Error("provider call failed", "round", router.TotalRounds()+1, "phase", string(phase), "error", err)
			return finish(fmt.Errorf("round %d: %w", router.TotalRounds()+1, err))
		}
		if reply == nil {
			reply = &ChatResult{}
		}
		result.Usage.Add(reply.Usage)

		if reply.HasFunctionCalls() && choice != models.ToolChoiceNone {
			calls := ensureCallIDs(reply.FunctionCalls)
			window.AppendAssistantWithToolCalls(reply.Text, calls)
			submits, err := s.runTools(ctx, window, calls, logger)
			if err != nil {
				abandonPending(window, err)
				return finish(err)
			}
			result.Submits = append(result.Submits, submits...)
			router.Update(routing.RoundResult{FunctionCalls: calls, SubmitCount: len(submits)})
		} else {
			text := strings.TrimSpace(reply.Text)
			window.AppendAssistantText(reply.Text)
			if text != "" {
				result.FinalText = text
			}
			router.Update(routing.RoundResult{IsTextOnly: true})
			if phase == routing.PhaseSummarize && text != "" {
				break
			}
			if !router.ShouldExit() {
				window.AppendUserMessage(continuePrompt)
			}
		}

		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveContextUsage(window.TokenUsageRatio())
		}
		logger.Debug("round complete",
			"round", router.TotalRounds(),
			"phase", string(router.Phase()),
			"tool_calls", len(reply.FunctionCalls),
			"ratio", window.TokenUsageRatio(),
		)
	}

	return finish(nil)
}

// runTools executes calls in order and appends one result per call.
// It returns the titles of successful submissions.
func (s *Session) runTools(ctx context.Context, window *agentctx.Window, calls []models.ToolCall, logger *slog.Logger) ([]string, error) {
	var submits []string
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		quota := window.ToolResultQuota()
		outcome, err := s.cfg.Tools.Execute(ctx, call.Name, call.Args, s.cfg.ToolContext)

		var content string
		switch {
		case errors.Is(err, ErrToolNotFound):
			logger.Warn("model requested unknown tool", "tool", call.Name)
			content = LimitToolResult(call.Name, map[string]any{"error": "tool not found: " + call.Name}, quota, false)
		case err != nil:
			return nil, fmt.Errorf("execute %s: %w", call.Name, err)
		default:
			content = LimitToolResult(call.Name, outcome.Payload(), quota, window.IsSubmitTool(call.Name))
			if !outcome.IsError() && window.IsSubmitTool(call.Name) {
				title := strings.TrimSpace(call.StringArg("title"))
				if title == "" {
					title = call.Name
				}
				submits = append(submits, title)
			}
		}

		if err := window.AppendToolResult(call.ID, call.Name, content); err != nil {
			return nil, err
		}
	}
	return submits, nil
}

// abandonPending answers the calls a failed round never ran so every call
// in the transcript keeps its result.
func abandonPending(window *agentctx.Window, cause error) {
	for _, call := range window.PendingToolCalls() {
		payload, _ := json.Marshal(map[string]string{"error": "not executed: " + cause.Error()})
		_ = window.AppendToolResult(call.ID, call.Name, string(payload))
	}
}

// compact shrinks the buffer and falls back to a full reset when even the
// most aggressive tier leaves it over budget.
func (s *Session) compact(window *agentctx.Window, logger *slog.Logger) {
	level := window.CompactIfNeeded()
	if level != agentctx.LevelNone && s.cfg.Observer != nil {
		s.cfg.Observer.ObserveCompaction(level.String())
	}
	if level == agentctx.LevelL3 && window.TokenUsageRatio() >= 1 {
		logger.Warn("context still over budget after L3; resetting to prompt", "ratio", window.TokenUsageRatio())
		window.ResetToPromptOnly()
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveCompaction(agentctx.LevelReset.String())
		}
	}
}

func (s *Session) systemPrompt(router *routing.PhaseRouter, window *agentctx.Window) string {
	parts := make([]string, 0, 3)
	if base := strings.TrimSpace(s.cfg.SystemPrompt); base != "" {
		parts = append(parts, base)
	}
	if hint := router.PhaseHint(); hint != "" {
		parts = append(parts, hint)
	}
	if submitted := window.CompactedSubmits(); len(submitted) > 0 {
		parts = append(parts, "Already submitted, do not submit again:\n- "+strings.Join(submitted, "\n- "))
	}
	return strings.Join(parts, "\n\n")
}

// ensureCallIDs fills in missing or repeated call ids so results pair
// unambiguously.
func ensureCallIDs(calls []models.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, call := range calls {
		if call.ID == "" || seen[call.ID] {
			call.ID = NewToolCallID()
		}
		if call.Args == nil {
			call.Args = map[string]any{}
		}
		seen[call.ID] = true
		out[i] = call
	}
	return out
}

// NewToolCallID synthesizes a call id for backends that do not assign one.
func NewToolCallID() string {
	return "call_" + uuid.NewString()
}
