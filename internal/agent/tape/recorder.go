package tape

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/pkg/models"
)

// Recorder wraps a provider and records every tool-enabled turn.
// It reports the wrapped provider's name and model.
type Recorder struct {
	provider agent.ProviderAdapter
	mu       sync.Mutex
	tape     *Tape
}

// NewRecorder creates a new recorder wrapping the given provider.
func NewRecorder(provider agent.ProviderAdapter) *Recorder {
	r := &Recorder{provider: provider}
	r.Reset()
	return r
}

// Name implements agent.ProviderAdapter.
func (r *Recorder) Name() string { return r.provider.Name() }

// Model implements agent.ProviderAdapter.
func (r *Recorder) Model() string { return r.provider.Model() }

// SupportsEmbedding implements agent.ProviderAdapter.
func (r *Recorder) SupportsEmbedding() bool { return r.provider.SupportsEmbedding() }

// Chat passes through unrecorded.
func (r *Recorder) Chat(ctx context.Context, prompt string, opts agent.ChatOptions) (string, error) {
	return r.provider.Chat(ctx, prompt, opts)
}

// ChatWithTools implements agent.ProviderAdapter, recording the interaction.
func (r *Recorder) ChatWithTools(ctx context.Context, req *agent.ToolChatRequest) (*agent.ChatResult, error) {
	start := time.Now()
	result, err := r.provider.ChatWithTools(ctx, req)

	turn := Turn{Request: snapshot(req), Result: result, Duration: time.Since(start)}
	if err != nil {
		turn.Result = nil
		turn.Error = err.Error()
	}
	r.mu.Lock()
	r.tape.AddTurn(turn)
	r.mu.Unlock()
	return result, err
}

// snapshot copies the parts of req the caller may reuse after the call.
func snapshot(req *agent.ToolChatRequest) *agent.ToolChatRequest {
	if req == nil {
		return nil
	}
	cp := *req
	cp.Messages = append([]models.Message(nil), req.Messages...)
	cp.Tools = append([]models.ToolSchema(nil), req.Tools...)
	return &cp
}

// Tape returns a copy of the recording.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tape.Clone()
}

// Reset clears the recording and starts fresh.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tape = NewTape()
	r.tape.Provider = r.provider.Name()
	r.tape.Model = r.provider.Model()
}
