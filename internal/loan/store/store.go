// Package store persists loan applications and edit requests. Stores are
// pure I/O; workflow rules live in the loan service.
package store

import (
	"context"

	"github.com/google/uuid"

	"fairfin/internal/loan/models"
)

// LoanStore persists loan applications.
//
// Update is optimistic: it writes only when the stored version still matches
// loan.Version, increments the version, and returns sentinel.ErrConflict on a
// stale read. GetForUpdate
// takes a row lock when the backing store is transactional; callers use it
// inside a unit of work when they intend to write.
type LoanStore interface {
	Create(ctx context.Context, loan *models.LoanApplication) error
	Get(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error)
	Update(ctx context.Context, loan *models.LoanApplication) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.LoanApplication, error)
	ListByStatus(ctx context.Context, status models.Status) ([]models.LoanApplication, error)
}

// EditStore persists edit requests. Create returns sentinel.ErrConflict when
// a pending request already exists for the same application.
type EditStore interface {
	Create(ctx context.Context, req *models.EditRequest) error
	Get(ctx context.Context, id uuid.UUID) (*models.EditRequest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.EditRequest, error)
	Update(ctx context.Context, req *models.EditRequest) error
	FindPendingByLoan(ctx context.Context, loanID uuid.UUID) (*models.EditRequest, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.EditRequest, error)
}
