// Package context owns the conversation buffer for one agent session.
//
// The buffer is provider-agnostic: adapters read it through ToMessages and
// translate it into their wire format. It tracks an estimated token count
// against a fixed budget and shrinks itself in tiers when that budget is
// under pressure:
//   - L1 shortens old tool results in place
//   - L2 drops everything but the last two tool rounds
//   - L3 drops everything but the last tool round
//
// The first message (the task prompt) is never removed, and a tool round
// (an assistant turn with tool calls plus its results) is only ever removed
// as a whole.
package context

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/lore/pkg/models"
)

// Compaction thresholds on estimatedTokens / tokenBudget.
const (
	L1Threshold = 0.6
	L2Threshold = 0.8
	L3Threshold = 0.95

	// minCompactableMessages is the buffer size at or below which compaction is skipped.
	minCompactableMessages = 4

	l1ResultThreshold = 2000
	l1ResultKeep      = 500
)

var (
	// ErrInvalidBudget is returned when a window is created without a positive token budget.
	ErrInvalidBudget = errors.New("token budget must be positive")
	// ErrEmptyPrompt is returned when a window is created without a task prompt.
	ErrEmptyPrompt = errors.New("task prompt is required")
	// ErrUnpairedToolResult is returned when a tool result does not answer an open call of the latest round.
	ErrUnpairedToolResult = errors.New("tool result has no matching call in the latest round")
)

// Level identifies a compaction tier.
type Level int

const (
	LevelNone Level = iota
	LevelL1
	LevelL2
	LevelL3
	LevelReset
)

func (l Level) String() string {
	switch l {
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	case LevelL3:
		return "L3"
	case LevelReset:
		return "reset"
	default:
		return "none"
	}
}

// Quota caps the size of a single tool result admitted into the buffer.
type Quota struct {
	MaxChars   int
	MaxMatches int
}

// CompactionEvent records one compaction pass.
type CompactionEvent struct {
	Level          Level     `json:"level"`
	Ratio          float64   `json:"ratio"`
	MessagesBefore int       `json:"messages_before"`
	MessagesAfter  int       `json:"messages_after"`
	TokensBefore   int       `json:"tokens_before"`
	TokensAfter    int       `json:"tokens_after"`
	At             time.Time `json:"at"`
}

// Config configures a Window.
type Config struct {
	// TokenBudget is the estimated-token ceiling for the whole buffer.
	TokenBudget int

	// SubmitTools names tools whose calls are terminal "submit" actions.
	// Any tool whose name starts with "submit" is treated the same way.
	SubmitTools []string

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Window is the ordered conversation buffer. It is owned by a single
// session and is not safe for concurrent use.
type Window struct {
	messages    []models.Message
	budget      int
	submitTools map[string]bool

	compactedSubmits []string
	seenSubmits      map[string]bool
	log              []CompactionEvent

	logger *slog.Logger
	now    func() time.Time
}

// NewWindow creates a buffer whose first message is prompt.
func NewWindow(prompt string, cfg Config) (*Window, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if cfg.TokenBudget <= 0 {
		return nil, ErrInvalidBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	submit := make(map[string]bool, len(cfg.SubmitTools))
	for _, name := range cfg.SubmitTools {
		submit[name] = true
	}
	return &Window{
		messages:    []models.Message{{Role: models.RoleUser, Content: prompt}},
		budget:      cfg.TokenBudget,
		submitTools: submit,
		seenSubmits: make(map[string]bool),
		logger:      logger.With("component", "context_window"),
		now:         now,
	}, nil
}

// AppendUserMessage pushes a user turn.
func (w *Window) AppendUserMessage(content string) {
	w.messages = append(w.messages, models.Message{Role: models.RoleUser, Content: content})
}

// AppendAssistantWithToolCalls opens a new tool round. With no calls it
// degrades to a plain assistant text turn.
func (w *Window) AppendAssistantWithToolCalls(text string, calls []models.ToolCall) {
	if len(calls) == 0 {
		w.AppendAssistantText(text)
		return
	}
	copied := make([]models.ToolCall, len(calls))
	copy(copied, calls)
	w.messages = append(w.messages, models.Message{
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: copied,
	})
}

// AppendToolResult answers one call of the latest round.
func (w *Window) AppendToolResult(callID, name, content string) error {
	start := w.lastRoundStart()
	if start < 0 {
		return fmt.Errorf("%w: %s", ErrUnpairedToolResult, callID)
	}
	declared := false
	for _, call := range w.messages[start].ToolCalls {
		if call.ID == callID {
			declared = true
			break
		}
	}
	if !declared {
		return fmt.Errorf("%w: %s", ErrUnpairedToolResult, callID)
	}
	for _, msg := range w.messages[start+1:] {
		if msg.Role != models.RoleTool {
			return fmt.Errorf("%w: round already closed", ErrUnpairedToolResult)
		}
		if msg.ToolCallID == callID {
			return fmt.Errorf("%w: duplicate result for %s", ErrUnpairedToolResult, callID)
		}
	}
	w.messages = append(w.messages, models.Message{
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: callID,
		Name:       name,
	})
	return nil
}

// AppendAssistantText pushes an assistant turn without tool calls.
func (w *Window) AppendAssistantText(text string) {
	w.messages = append(w.messages, models.Message{Role: models.RoleAssistant, Content: text})
}

// PendingToolCalls returns the calls of the latest round that have no result yet.
func (w *Window) PendingToolCalls() []models.ToolCall {
	start := w.lastRoundStart()
	if start < 0 {
		return nil
	}
	answered := make(map[string]bool)
	for _, msg := range w.messages[start+1:] {
		if msg.Role != models.RoleTool {
			return nil
		}
		answered[msg.ToolCallID] = true
	}
	var pending []models.ToolCall
	for _, call := range w.messages[start].ToolCalls {
		if !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

// ToMessages returns a copy of the buffer.
func (w *Window) ToMessages() []models.Message {
	out := make([]models.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Len returns the number of buffered messages.
func (w *Window) Len() int { return len(w.messages) }

// TokenBudget returns the configured budget.
func (w *Window) TokenBudget() int { return w.budget }

// EstimateTokens approximates the buffer size at three characters per token.
func (w *Window) EstimateTokens() int {
	chars := 0
	for _, msg := range w.messages {
		chars += messageChars(msg)
	}
	return ceilDiv(chars, 3)
}

// TokenUsageRatio is EstimateTokens divided by the budget.
func (w *Window) TokenUsageRatio() float64 {
	return float64(w.EstimateTokens()) / float64(w.budget)
}

// ToolResultQuota returns the per-result size quota for the current usage.
// Quotas never grow as usage rises.
func (w *Window) ToolResultQuota() Quota {
	return QuotaForRatio(w.TokenUsageRatio())
}

// QuotaForRatio maps a usage ratio onto its quota tier.
func QuotaForRatio(ratio float64) Quota {
	switch {
	case ratio < 0.4:
		return Quota{MaxChars: 6000, MaxMatches: 15}
	case ratio < 0.6:
		return Quota{MaxChars: 3000, MaxMatches: 8}
	case ratio < 0.8:
		return Quota{MaxChars: 1500, MaxMatches: 5}
	default:
		return Quota{MaxChars: 800, MaxMatches: 3}
	}
}

// CompactionLog returns every compaction pass performed so far.
func (w *Window) CompactionLog() []CompactionEvent {
	out := make([]CompactionEvent, len(w.log))
	copy(out, w.log)
	return out
}

// CompactedSubmits returns the titles of submit calls whose rounds were
// removed, in first-seen order.
func (w *Window) CompactedSubmits() []string {
	out := make([]string, len(w.compactedSubmits))
	copy(out, w.compactedSubmits)
	return out
}

// IsSubmitTool reports whether name is a terminal submit action.
func (w *Window) IsSubmitTool(name string) bool {
	return w.submitTools[name] || strings.HasPrefix(name, "submit")
}

// messageChars is the character weight of msg: its content plus the encoded
// tool calls it carries.
func messageChars(msg models.Message) int {
	chars := utf8.RuneCountInString(msg.Content)
	if len(msg.ToolCalls) > 0 {
		if encoded, err := json.Marshal(msg.ToolCalls); err == nil {
			chars += len(encoded)
		}
	}
	return chars
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func (w *Window) roundStarts() []int {
	var starts []int
	for i, msg := range w.messages {
		if i > 0 && msg.HasToolCalls() {
			starts = append(starts, i)
		}
	}
	return starts
}

func (w *Window) lastRoundStart() int {
	for i := len(w.messages) - 1; i > 0; i-- {
		if w.messages[i].HasToolCalls() {
			return i
		}
	}
	return -1
}
