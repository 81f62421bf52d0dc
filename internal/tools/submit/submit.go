// Package submit implements the terminal submit_knowledge tool.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/tools"
	"github.com/haasonsaas/lore/pkg/models"
)

// ToolName is the registered name of the tool.
const ToolName = "submit_knowledge"

// ErrDuplicate is returned when a candidate with the same title was already recorded.
var ErrDuplicate = errors.New("candidate already submitted")

// Sink receives accepted candidates.
type Sink interface {
	Submit(ctx context.Context, candidate models.Candidate) error
}

// Collector is an in-memory Sink that rejects repeated titles.
type Collector struct {
	mu         sync.Mutex
	candidates []models.Candidate
	titles     map[string]bool
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{titles: make(map[string]bool)}
}

// Submit records candidate unless its title was seen before.
func (c *Collector) Submit(_ context.Context, candidate models.Candidate) error {
	key := strings.ToLower(strings.TrimSpace(candidate.Title))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.titles[key] {
		return fmt.Errorf("%w: %q", ErrDuplicate, candidate.Title)
	}
	c.titles[key] = true
	c.candidates = append(c.candidates, candidate)
	return nil
}

// Candidates returns a copy of the recorded candidates in submission order.
func (c *Collector) Candidates() []models.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Params are the arguments of submit_knowledge.
type Params struct {
	Title    string   `json:"title" jsonschema:"required,minLength=1,description=Short headline for the knowledge item"`
	Kind     string   `json:"kind,omitempty" jsonschema:"enum=decision,enum=convention,enum=gotcha,enum=architecture,enum=workflow,enum=skill"`
	Summary  string   `json:"summary" jsonschema:"required,minLength=1,description=What a new contributor needs to know"`
	Evidence []string `json:"evidence,omitempty" jsonschema:"description=File paths or line references backing the summary"`
}

// Tool records knowledge candidates into a Sink.
type Tool struct {
	sink Sink
	now  func() time.Time
}

// New creates the tool. A nil sink gets a fresh Collector.
func New(sink Sink) *Tool {
	if sink == nil {
		sink = NewCollector()
	}
	return &Tool{sink: sink, now: time.Now}
}

// Definition returns the registry entry for the tool.
func (t *Tool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        ToolName,
		Description: "Submit one piece of project knowledge. Call once per distinct item; titles must be unique.",
		Parameters:  tools.ReflectSchema[Params](),
		Handler:     t.Execute,
	}
}

// Execute validates the candidate and hands it to the sink.
func (t *Tool) Execute(ctx context.Context, raw map[string]any, _ any) (any, error) {
	params, err := tools.DecodeParams[Params](raw)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(params.Title)
	summary := strings.TrimSpace(params.Summary)
	if title == "" || summary == "" {
		return nil, fmt.Errorf("title and summary are required")
	}

	candidate := models.Candidate{
		ID:        uuid.NewString(),
		Title:     title,
		Kind:      params.Kind,
		Summary:   summary,
		Evidence:  compact(params.Evidence),
		CreatedAt: t.now().UTC(),
	}
	if err := t.sink.Submit(ctx, candidate); err != nil {
		return nil, err
	}
	return map[string]any{"id": candidate.ID, "title": candidate.Title, "status": "recorded"}, nil
}

func compact(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
