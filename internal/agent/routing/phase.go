// Package routing decides, round by round, what the agent is allowed to do.
//
// A session moves through three phases, never backwards:
//
//	EXPLORE -> PRODUCE -> SUMMARIZE
//
// EXPLORE forces tool use so the agent gathers context, PRODUCE lets it
// submit findings, and SUMMARIZE forbids tools so it writes a final answer.
package routing

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/haasonsaas/lore/pkg/models"
)

// Phase is the agent's behavioral mode.
type Phase string

const (
	PhaseExplore   Phase = "EXPLORE"
	PhaseProduce   Phase = "PRODUCE"
	PhaseSummarize Phase = "SUMMARIZE"
)

func (p Phase) rank() int {
	switch p {
	case PhaseExplore:
		return 0
	case PhaseProduce:
		return 1
	default:
		return 2
	}
}

// summarizeRounds is the number of SUMMARIZE rounds after which the session ends.
const summarizeRounds = 2

// RoundResult is the orchestrator's summary of one model response.
type RoundResult struct {
	FunctionCalls []models.ToolCall
	SubmitCount   int
	IsTextOnly    bool
}

// Transition records a phase change.
type Transition struct {
	From   Phase
	To     Phase
	Round  int
	Reason string
}

// Config configures a PhaseRouter.
type Config struct {
	Budget Budget
	// SkillOnly sessions skip PRODUCE.
	SkillOnly bool
	Logger    *slog.Logger
	// OnTransition is called after every phase change.
	OnTransition func(Transition)
}

// PhaseRouter is the per-session phase state machine. It is owned by a
// single orchestrator loop and is not safe for concurrent use.
type PhaseRouter struct {
	budget    Budget
	skillOnly bool
	logger    *slog.Logger
	notify    func(Transition)

	phase        Phase
	phaseRounds  int
	totalRounds  int
	totalSubmits int
	idleRounds   int
	transitions  []Transition
}

// NewPhaseRouter creates a router in EXPLORE.
func NewPhaseRouter(cfg Config) (*PhaseRouter, error) {
	if err := cfg.Budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PhaseRouter{
		budget:    cfg.Budget,
		skillOnly: cfg.SkillOnly,
		logger:    logger.With("component", "phase_router"),
		notify:    cfg.OnTransition,
		phase:     PhaseExplore,
	}, nil
}

// Phase returns the current phase.
func (r *PhaseRouter) Phase() Phase { return r.phase }

// TotalRounds returns the number of rounds reported so far.
func (r *PhaseRouter) TotalRounds() int { return r.totalRounds }

// TotalSubmits returns the cumulative submission count.
func (r *PhaseRouter) TotalSubmits() int { return r.totalSubmits }

// Transitions returns the phase changes made so far.
func (r *PhaseRouter) Transitions() []Transition {
	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// ToolChoice returns the tool-choice mode for the next round.
func (r *PhaseRouter) ToolChoice() models.ToolChoice {
	switch r.phase {
	case PhaseExplore:
		// The last allotted search round may answer in text.
		if r.phaseRounds+1 >= r.budget.SearchBudget {
			return models.ToolChoiceAuto
		}
		return models.ToolChoiceRequired
	case PhaseProduce:
		return models.ToolChoiceAuto
	default:
		return models.ToolChoiceNone
	}
}

// PhaseHint returns steering text to merge into the system prompt, or "".
func (r *PhaseRouter) PhaseHint() string {
	switch r.phase {
	case PhaseExplore:
		remaining := r.budget.SearchBudget - r.phaseRounds
		if remaining <= 2 {
			return fmt.Sprintf("Search budget nearly exhausted: %d exploration round(s) left. Stop broad searching and focus on what you will submit.", max(remaining, 0))
		}
	case PhaseProduce:
		if r.totalSubmits == 0 {
			return "You have not submitted any knowledge yet. Submit your most valuable finding now using the submit tool."
		}
		if r.totalSubmits >= r.budget.SoftSubmitLimit {
			return fmt.Sprintf("%d of at most %d findings submitted. Only submit findings that are clearly distinct from earlier ones; otherwise reply with a short summary.", r.totalSubmits, r.budget.MaxSubmits)
		}
	}
	return ""
}

// Update feeds the outcome of one round into the state machine.
func (r *PhaseRouter) Update(result RoundResult) {
	r.totalRounds++
	r.phaseRounds++
	if result.SubmitCount > 0 {
		r.totalSubmits += result.SubmitCount
	}

	switch r.phase {
	case PhaseExplore:
		next := PhaseProduce
		if r.skillOnly {
			next = PhaseSummarize
		}
		switch {
		case result.SubmitCount > 0:
			r.advance(next, "submission during exploration")
		case r.phaseRounds >= r.budget.SearchBudget:
			r.advance(next, "search budget reached")
		case len(result.FunctionCalls) == 0:
			r.advance(next, "text-only response")
		}

	case PhaseProduce:
		if result.SubmitCount > 0 {
			r.idleRounds = 0
		} else {
			r.idleRounds++
		}
		switch {
		case r.totalSubmits >= r.budget.MaxSubmits:
			r.advance(PhaseSummarize, "max submits reached")
		case r.idleRounds >= r.budget.IdleRoundsToExit && r.totalSubmits > 0:
			r.advance(PhaseSummarize, "idle rounds exceeded")
		case result.IsTextOnly && r.totalSubmits >= r.budget.SoftSubmitLimit:
			r.advance(PhaseSummarize, "text-only response after soft submit limit")
		case r.phaseRounds >= r.budget.SearchBudgetGrace && r.totalSubmits == 0:
			r.advance(PhaseSummarize, "grace rounds exhausted without submissions")
		}
	}
}

// ShouldExit reports whether the session must stop.
func (r *PhaseRouter) ShouldExit() bool {
	if r.totalRounds >= r.budget.MaxIterations {
		return true
	}
	return r.phase == PhaseSummarize && r.phaseRounds >= summarizeRounds
}

func (r *PhaseRouter) advance(to Phase, reason string) {
	if to.rank() <= r.phase.rank() {
		return
	}
	t := Transition{From: r.phase, To: to, Round: r.totalRounds, Reason: reason}
	r.phase = to
	r.phaseRounds = 0
	r.idleRounds = 0
	r.transitions = append(r.transitions, t)
	r.logger.Info("phase transition",
		"from", string(t.From),
		"to", string(t.To),
		"round", t.Round,
		"reason", reason,
		"total_submits", r.totalSubmits,
	)
	if r.notify != nil {
		r.notify(t)
	}
}
