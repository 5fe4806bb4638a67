package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "fairfin/pkg/domain-errors"
)

// EditStatus is the resolution state of an edit request.
type EditStatus string

const (
	EditPending  EditStatus = "pending"
	EditAccepted EditStatus = "accepted"
	EditRejected EditStatus = "rejected"
)

func (s EditStatus) IsValid() bool {
	return s == EditPending || s == EditAccepted || s == EditRejected
}

// Resolved reports whether the request has been decided either way.
func (s EditStatus) Resolved() bool {
	return s == EditAccepted || s == EditRejected
}

// EditChanges are the field overrides a customer may request on a decided
// application. Nil fields are left untouched.
type EditChanges struct {
	NewMonthlyExpenses  *float64 `json:"new_monthly_expenses,omitempty"`
	NewExistingLoans    *int     `json:"new_existing_loans,omitempty"`
	NewLoanTenureMonths *int     `json:"new_loan_tenure_months,omitempty"`
	WithdrawRequested   bool     `json:"withdraw_requested"`
}

// Empty reports whether the request asks for nothing at all.
func (c EditChanges) Empty() bool {
	return c.NewMonthlyExpenses == nil && c.NewExistingLoans == nil &&
		c.NewLoanTenureMonths == nil && !c.WithdrawRequested
}

// EditRequest is a customer's petition to amend or withdraw a decided loan
// application. At most one pending request may exist per application.
type EditRequest struct {
	ID          uuid.UUID   `json:"id"`
	LoanID      uuid.UUID   `json:"loan_id"`
	RequesterID uuid.UUID   `json:"requester_id"`
	Changes     EditChanges `json:"changes"`
	Status      EditStatus  `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewEditRequest constructs a pending edit request.
func NewEditRequest(id, loanID, requesterID uuid.UUID, changes EditChanges, now time.Time) (*EditRequest, error) {
	if loanID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "loan id is required")
	}
	if requesterID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "requester id is required")
	}
	if changes.Empty() {
		return nil, dErrors.New(dErrors.CodeValidation, "edit request must change at least one field or request withdrawal")
	}
	if err := changes.validate(); err != nil {
		return nil, err
	}
	return &EditRequest{
		ID:          id,
		LoanID:      loanID,
		RequesterID: requesterID,
		Changes:     changes,
		Status:      EditPending,
		CreatedAt:   now,
	}, nil
}

func (c EditChanges) validate() error {
	if c.NewMonthlyExpenses != nil && *c.NewMonthlyExpenses < 0 {
		return dErrors.New(dErrors.CodeValidation, "monthly expenses cannot be negative")
	}
	if c.NewExistingLoans != nil && *c.NewExistingLoans < 0 {
		return dErrors.New(dErrors.CodeValidation, "existing loans cannot be negative")
	}
	if c.NewLoanTenureMonths != nil && *c.NewLoanTenureMonths <= 0 {
		return dErrors.New(dErrors.CodeValidation, "loan tenure must be a positive number of months")
	}
	return nil
}

// ApplyTo returns a copy of features with the requested overrides applied.
// The result must still pass FeatureSet.Validate before it is stored.
func (c EditChanges) ApplyTo(features FeatureSet) FeatureSet {
	if c.NewMonthlyExpenses != nil {
		features.MonthlyExpenses = *c.NewMonthlyExpenses
	}
	if c.NewExistingLoans != nil {
		features.ExistingLoans = *c.NewExistingLoans
	}
	if c.NewLoanTenureMonths != nil {
		features.LoanTenureMonths = *c.NewLoanTenureMonths
	}
	return features
}

// Resolve marks the request accepted or rejected.
//
// Errors: returns CodeInvalidTransition when the request is already resolved.
func (e *EditRequest) Resolve(outcome EditStatus) error {
	if !outcome.Resolved() {
		return dErrors.New(dErrors.CodeInvalidInput, "resolution must be accepted or rejected")
	}
	if e.Status != EditPending {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "edit request is already %s", e.Status)
	}
	e.Status = outcome
	return nil
}
