package routing

import (
	"errors"
	"fmt"
)

// Budget bounds one agent session. It is immutable once the session starts.
type Budget struct {
	// MaxIterations caps the total number of rounds across all phases.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" jsonschema:"minimum=1"`
	// SearchBudget is the number of EXPLORE rounds before the agent must act.
	SearchBudget int `yaml:"search_budget" json:"search_budget" jsonschema:"minimum=1"`
	// SearchBudgetGrace is the number of PRODUCE rounds allowed without any submission.
	SearchBudgetGrace int `yaml:"search_budget_grace" json:"search_budget_grace" jsonschema:"minimum=1"`
	// MaxSubmits is the hard cap on submissions.
	MaxSubmits int `yaml:"max_submits" json:"max_submits" jsonschema:"minimum=1"`
	// SoftSubmitLimit is the submission count after which a text-only reply ends PRODUCE.
	SoftSubmitLimit int `yaml:"soft_submit_limit" json:"soft_submit_limit" jsonschema:"minimum=1"`
	// IdleRoundsToExit is the number of consecutive rounds without submissions that ends PRODUCE.
	IdleRoundsToExit int `yaml:"idle_rounds_to_exit" json:"idle_rounds_to_exit" jsonschema:"minimum=1"`
}

// DefaultBudget returns the budget used when none is configured.
func DefaultBudget() Budget {
	return Budget{
		MaxIterations:     30,
		SearchBudget:      10,
		SearchBudgetGrace: 8,
		MaxSubmits:        8,
		SoftSubmitLimit:   4,
		IdleRoundsToExit:  2,
	}
}

// Validate checks that every limit is positive and consistent.
func (b Budget) Validate() error {
	var errs []error
	check := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	check("max_iterations", b.MaxIterations)
	check("search_budget", b.SearchBudget)
	check("search_budget_grace", b.SearchBudgetGrace)
	check("max_submits", b.MaxSubmits)
	check("soft_submit_limit", b.SoftSubmitLimit)
	check("idle_rounds_to_exit", b.IdleRoundsToExit)
	if b.SoftSubmitLimit > b.MaxSubmits && b.MaxSubmits > 0 {
		errs = append(errs, fmt.Errorf("soft_submit_limit (%d) exceeds max_submits (%d)", b.SoftSubmitLimit, b.MaxSubmits))
	}
	return errors.Join(errs...)
}
