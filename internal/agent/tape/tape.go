// Package tape records and replays the tool-enabled turns of an agent
// session, so the loop can be exercised without calling a real backend.
package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/haasonsaas/lore/internal/agent"
)

// FormatVersion is written into every new tape.
const FormatVersion = "1.0"

// Tape records every backend turn of one session.
type Tape struct {
	// Version of the tape format
	Version string `json:"version"`

	// CreatedAt is when the tape was recorded
	CreatedAt time.Time `json:"created_at"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Turns contains each request/reply pair in call order
	Turns []Turn `json:"turns"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Turn is one ChatWithTools call.
type Turn struct {
	// Index is the 0-based turn number
	Index int `json:"index"`

	Request *agent.ToolChatRequest `json:"request"`

	// Result is nil when the call failed.
	Result *agent.ChatResult `json:"result,omitempty"`

	// Error is the failure message of a failed call.
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"duration"`
}

// NewTape creates a new empty tape.
func NewTape() *Tape {
	return &Tape{
		Version:   FormatVersion,
		CreatedAt: time.Now(),
		Turns:     []Turn{},
		Metadata:  make(map[string]any),
	}
}

// AddTurn appends a turn and assigns its index.
func (t *Tape) AddTurn(turn Turn) {
	turn.Index = len(t.Turns)
	t.Turns = append(t.Turns, turn)
}

// GetTurn returns the turn at the given index.
func (t *Tape) GetTurn(index int) (*Turn, bool) {
	if index < 0 || index >= len(t.Turns) {
		return nil, false
	}
	return &t.Turns[index], true
}

// TotalTurns returns the number of turns in the tape.
func (t *Tape) TotalTurns() int {
	return len(t.Turns)
}

// Marshal serializes the tape to JSON.
func (t *Tape) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Unmarshal deserializes a tape from JSON.
func Unmarshal(data []byte) (*Tape, error) {
	var tape Tape
	if err := json.Unmarshal(data, &tape); err != nil {
		return nil, err
	}
	if tape.Version == "" {
		return nil, fmt.Errorf("tape has no version")
	}
	return &tape, nil
}

// Clone creates a deep copy of the tape.
func (t *Tape) Clone() *Tape {
	data, err := t.Marshal()
	if err == nil {
		if clone, err := Unmarshal(data); err == nil {
			return clone
		}
	}
	clone := *t
	clone.Turns = append([]Turn(nil), t.Turns...)
	return &clone
}

// Save writes the tape to path.
func (t *Tape) Save(path string) error {
	data, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("encode tape: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write tape: %w", err)
	}
	return nil
}

// Load reads a tape written by Save.
func Load(path string) (*Tape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tape: %w", err)
	}
	tape, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode tape %s: %w", path, err)
	}
	return tape, nil
}

// Summary returns a brief summary of the tape contents.
func (t *Tape) Summary() TapeSummary {
	s := TapeSummary{
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		Provider:  t.Provider,
		Model:     t.Model,
		TurnCount: len(t.Turns),
	}
	for _, turn := range t.Turns {
		if turn.Error != "" {
			s.ErrorCount++
			continue
		}
		if turn.Result != nil {
			s.ToolCallCount += len(turn.Result.FunctionCalls)
			s.TotalTextLen += len(turn.Result.Text)
		}
	}
	return s
}

// TapeSummary is a brief overview of a tape.
type TapeSummary struct {
	Version       string    `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	TurnCount     int       `json:"turn_count"`
	ToolCallCount int       `json:"tool_call_count"`
	ErrorCount    int       `json:"error_count"`
	TotalTextLen  int       `json:"total_text_len"`
}
