package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fairfin/internal/loan/models"
	"fairfin/pkg/platform/sentinel"
)

// InMemoryLoanStore keeps development and unit tests lightweight. Version
// checks mirror the Postgres store so concurrency tests behave the same
// against either backend.
type InMemoryLoanStore struct {
	mu    sync.RWMutex
	loans map[uuid.UUID]models.LoanApplication
}

func NewInMemoryLoanStore() *InMemoryLoanStore {
	return &InMemoryLoanStore{loans: make(map[uuid.UUID]models.LoanApplication)}
}

func (s *InMemoryLoanStore) Create(_ context.Context, loan *models.LoanApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loans[loan.ID]; exists {
		return sentinel.ErrConflict
	}
	s.loans[loan.ID] = cloneLoan(*loan)
	return nil
}

func (s *InMemoryLoanStore) Get(_ context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if loan, ok := s.loans[id]; ok {
		copied := cloneLoan(loan)
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryLoanStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryLoanStore) Update(_ context.Context, loan *models.LoanApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.loans[loan.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != loan.Version {
		return sentinel.ErrConflict
	}
	loan.Version++
	s.loans[loan.ID] = cloneLoan(*loan)
	return nil
}

func (s *InMemoryLoanStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LoanApplication
	for _, loan := range s.loans {
		if loan.OwnerID == ownerID {
			out = append(out, cloneLoan(loan))
		}
	}
	// Newest first for the owner's view.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryLoanStore) ListByStatus(_ context.Context, status models.Status) ([]models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LoanApplication
	for _, loan := range s.loans {
		if loan.Status == status {
			out = append(out, cloneLoan(loan))
		}
	}
	// Oldest first: the review queue is first-come first-served.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Snapshot captures current loan state for the memory unit of work.
func (s *InMemoryLoanStore) Snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	loans := make(map[uuid.UUID]models.LoanApplication, len(s.loans))
	for k, v := range s.loans {
		loans[k] = cloneLoan(v)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.loans = loans
	}
}

func cloneLoan(loan models.LoanApplication) models.LoanApplication {
	if loan.Explanation != nil {
		explanation := make(map[string]float64, len(loan.Explanation))
		for k, v := range loan.Explanation {
			explanation[k] = v
		}
		loan.Explanation = explanation
	}
	return loan
}

// InMemoryEditStore mirrors the Postgres edit store including its
// one-pending-request-per-loan constraint.
type InMemoryEditStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]models.EditRequest
}

func NewInMemoryEditStore() *InMemoryEditStore {
	return &InMemoryEditStore{requests: make(map[uuid.UUID]models.EditRequest)}
}

func (s *InMemoryEditStore) Create(_ context.Context, req *models.EditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.LoanID == req.LoanID && existing.Status == models.EditPending {
			return sentinel.ErrConflict
		}
	}
	s.requests[req.ID] = cloneEdit(*req)
	return nil
}

func (s *InMemoryEditStore) Get(_ context.Context, id uuid.UUID) (*models.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if req, ok := s.requests[id]; ok {
		copied := cloneEdit(req)
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryEditStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.EditRequest, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryEditStore) Update(_ context.Context, req *models.EditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[req.ID] = cloneEdit(*req)
	return nil
}

func (s *InMemoryEditStore) FindPendingByLoan(_ context.Context, loanID uuid.UUID) (*models.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.LoanID == loanID && req.Status == models.EditPending {
			copied := cloneEdit(req)
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryEditStore) ListByLoan(_ context.Context, loanID uuid.UUID) ([]models.EditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EditRequest
	for _, req := range s.requests {
		if req.LoanID == loanID {
			out = append(out, cloneEdit(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Snapshot captures current edit request state for the memory unit of work.
func (s *InMemoryEditStore) Snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests := make(map[uuid.UUID]models.EditRequest, len(s.requests))
	for k, v := range s.requests {
		requests[k] = cloneEdit(v)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = requests
	}
}

func cloneEdit(req models.EditRequest) models.EditRequest {
	if req.Changes.NewMonthlyExpenses != nil {
		v := *req.Changes.NewMonthlyExpenses
		req.Changes.NewMonthlyExpenses = &v
	}
	if req.Changes.NewExistingLoans != nil {
		v := *req.Changes.NewExistingLoans
		req.Changes.NewExistingLoans = &v
	}
	if req.Changes.NewLoanTenureMonths != nil {
		v := *req.Changes.NewLoanTenureMonths
		req.Changes.NewLoanTenureMonths = &v
	}
	return req
}
