package tape

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/pkg/models"
)

// ErrTapeExhausted indicates the tape has no more turns to replay.
var ErrTapeExhausted = errors.New("tape exhausted: no more turns to replay")

// ErrRecordedFailure wraps the error message of a turn that failed when recorded.
var ErrRecordedFailure = errors.New("recorded provider failure")

// ReplayMode controls how strictly the replayer matches requests.
type ReplayMode int

const (
	// ReplayLoose ignores request differences and just returns recorded replies.
	ReplayLoose ReplayMode = iota

	// ReplayStrict records a Mismatch whenever a request differs in shape
	// from the recorded one.
	ReplayStrict
)

// Mismatch records a difference between expected and actual values.
type Mismatch struct {
	TurnIndex int    `json:"turn_index"`
	Field     string `json:"field"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// Replayer serves a recorded tape as a provider.
type Replayer struct {
	tape       *Tape
	mode       ReplayMode
	mu         sync.Mutex
	turnIdx    int
	mismatches []Mismatch
}

// NewReplayer creates a replayer from a tape.
func NewReplayer(tape *Tape) *Replayer {
	return &Replayer{tape: tape.Clone()}
}

// WithMode sets the replay mode.
func (r *Replayer) WithMode(mode ReplayMode) *Replayer {
	r.mode = mode
	return r
}

// Name implements agent.ProviderAdapter.
func (r *Replayer) Name() string { return "replay" }

// Model implements agent.ProviderAdapter.
func (r *Replayer) Model() string { return r.tape.Model }

// SupportsEmbedding implements agent.ProviderAdapter.
func (r *Replayer) SupportsEmbedding() bool { return false }

// Chat returns the text of the next recorded turn.
func (r *Replayer) Chat(ctx context.Context, prompt string, _ agent.ChatOptions) (string, error) {
	result, err := r.ChatWithTools(ctx, &agent.ToolChatRequest{Prompt: prompt, ToolChoice: models.ToolChoiceNone})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ChatWithTools implements agent.ProviderAdapter, returning the next
// recorded reply.
func (r *Replayer) ChatWithTools(ctx context.Context, req *agent.ToolChatRequest) (*agent.ChatResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.turnIdx >= len(r.tape.Turns) {
		return nil, ErrTapeExhausted
	}
	turn := r.tape.Turns[r.turnIdx]
	r.turnIdx++

	if r.mode == ReplayStrict && turn.Request != nil && req != nil {
		r.checkMismatches(turn.Index, req, turn.Request)
	}
	if turn.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRecordedFailure, turn.Error)
	}
	if turn.Result == nil {
		return &agent.ChatResult{}, nil
	}
	result := *turn.Result
	return &result, nil
}

// checkMismatches compares request shapes. Callers hold r.mu.
func (r *Replayer) checkMismatches(turnIndex int, actual, expected *agent.ToolChatRequest) {
	if actual.ToolChoice != expected.ToolChoice {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "tool_choice",
			Expected:  string(expected.ToolChoice),
			Actual:    string(actual.ToolChoice),
		})
	}
	if len(actual.Messages) != len(expected.Messages) {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "message_count",
			Expected:  fmt.Sprintf("%d", len(expected.Messages)),
			Actual:    fmt.Sprintf("%d", len(actual.Messages)),
		})
	}
	if len(actual.Tools) != len(expected.Tools) {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "tool_count",
			Expected:  fmt.Sprintf("%d", len(expected.Tools)),
			Actual:    fmt.Sprintf("%d", len(actual.Tools)),
		})
	}
}

// Mismatches returns the differences seen in strict mode.
func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch{}, r.mismatches...)
}

// CurrentTurn returns the index of the next turn to replay.
func (r *Replayer) CurrentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnIdx
}
