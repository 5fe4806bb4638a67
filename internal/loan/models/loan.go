package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "fairfin/pkg/domain-errors"
)

// Status is the closed set of loan application states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusWithdrawn Status = "withdrawn"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusDenied:    true,
	StatusWithdrawn: true,
}

// ParseStatus constructs a Status from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "status cannot be empty")
	}
	st := Status(s)
	if !validStatuses[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid status: "+s)
	}
	return st, nil
}

func (s Status) IsValid() bool {
	return validStatuses[s]
}

// Decided reports whether the application carries a decision that an edit
// request could reopen.
func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusDenied
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusWithdrawn
}

// CanTransitionTo encodes the loan state machine. Withdrawn is terminal;
// approved and denied can only move back to pending (rescoring after an
// accepted edit) or forward to withdrawn.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusDenied || next == StatusWithdrawn
	case StatusApproved, StatusDenied:
		return next == StatusPending || next == StatusWithdrawn
	default:
		return false
	}
}

// DecisionOrigin records who made a decision: the scoring model or an
// analyst override.
type DecisionOrigin string

const (
	OriginModel   DecisionOrigin = "model"
	OriginAnalyst DecisionOrigin = "analyst"
)

// LoanApplication is a customer's request for credit.
//
// Invariants:
//   - Features are validated at construction and only change through an
//     accepted edit request
//   - Every status change bumps Version; stores reject writes against a
//     stale version
//   - Explanation is present exactly when the current status came from the
//     scoring model
type LoanApplication struct {
	ID          uuid.UUID          `json:"id"`
	OwnerID     uuid.UUID          `json:"owner_id"`
	Features    FeatureSet         `json:"features"`
	Status      Status             `json:"status"`
	Explanation map[string]float64 `json:"explanation,omitempty"`
	Version     int64              `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewLoanApplication constructs a pending application from a validated
// feature set.
func NewLoanApplication(id, ownerID uuid.UUID, features FeatureSet, now time.Time) (*LoanApplication, error) {
	if ownerID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner id is required")
	}
	if err := features.Validate(); err != nil {
		return nil, err
	}
	return &LoanApplication{
		ID:        id,
		OwnerID:   ownerID,
		Features:  features,
		Status:    StatusPending,
		Version:   1,
		CreatedAt: now,
	}, nil
}

// Transition moves the application to next, enforcing the state machine.
//
// Errors: returns CodeInvalidTransition when the move is not allowed.
func (l *LoanApplication) Transition(next Status) error {
	if !next.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid status: "+string(next))
	}
	if !l.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot move loan from %s to %s", l.Status, next)
	}
	l.Status = next
	return nil
}
