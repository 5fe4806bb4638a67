// Package scoring talks to the external credit-scoring collaborator. The
// collaborator owns the model; this package only carries the request across
// the wire and reports its verdict.
package scoring

import (
	"context"

	"github.com/google/uuid"
)

// Decision is the collaborator's binary verdict on an application.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// Valid reports whether d is one of the two known verdicts.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionDenied
}

// Result is a scoring verdict together with per-feature attributions
// explaining how each input pushed the decision.
type Result struct {
	Decision     Decision           `json:"decision"`
	Attributions map[string]float64 `json:"attributions"`
}

// Scorer scores a loan application. Implementations must be safe for
// concurrent use; callers hold no locks while a Score call is in flight.
//
//go:generate mockgen -source=scoring.go -destination=mocks/mock_scorer.go -package=mocks
type Scorer interface {
	Score(ctx context.Context, loanID uuid.UUID, features map[string]any) (*Result, error)
}
