package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the backend-independent conversation entry. Position in the
// conversation encodes time; the first message is always the task prompt.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// HasToolCalls reports whether the message is an assistant turn that opened a tool round.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall represents an LLM's request to execute a tool. ID pairs the call
// with its result; it is backend-assigned or synthesized.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ArgsJSON returns the call arguments encoded as a JSON object. Nil or
// unencodable arguments yield "{}".
func (c ToolCall) ArgsJSON() string {
	if len(c.Args) == 0 {
		return "{}"
	}
	payload, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(payload)
}

// StringArg returns a string-typed argument or "".
func (c ToolCall) StringArg(key string) string {
	if c.Args == nil {
		return ""
	}
	if s, ok := c.Args[key].(string); ok {
		return s
	}
	return ""
}

// ParseToolArgs decodes a raw argument payload. Malformed JSON degrades to an
// empty object rather than failing.
func ParseToolArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// ToolSchema is the public, backend-independent description of a tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice tells a backend whether it must, may, or must not call a tool.
type ToolChoice string

const (
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
)

// Usage is the normalized token accounting of one backend call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage block into u.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Candidate is a unit of knowledge submitted by the agent during a session.
type Candidate struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind,omitempty"`
	Summary   string    `json:"summary"`
	Evidence  []string  `json:"evidence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
