package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fairfin/internal/loan/models"
	"fairfin/pkg/platform/sentinel"
	txcontext "fairfin/pkg/platform/tx"
)

// PostgresLoanStore persists loan applications in PostgreSQL. Features and
// explanations travel as JSONB; the version column backs optimistic locking.
type PostgresLoanStore struct {
	db *sql.DB
}

func NewPostgresLoanStore(db *sql.DB) *PostgresLoanStore {
	return &PostgresLoanStore{db: db}
}

func (s *PostgresLoanStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Execer(ctx, s.db)
}

const uniqueViolation = "23505"

const loanColumns = "id, user_id, features, status, explanation, version, created_at"

func (s *PostgresLoanStore) Create(ctx context.Context, loan *models.LoanApplication) error {
	features, err := json.Marshal(loan.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	explanation, err := marshalExplanation(loan.Explanation)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO loan_applications (id, user_id, features, status, explanation, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		loan.ID, loan.OwnerID, features, string(loan.Status), explanation, loan.Version, loan.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (s *PostgresLoanStore) Get(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	query := "SELECT " + loanColumns + " FROM loan_applications WHERE id = $1"
	return scanLoan(s.execer(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresLoanStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	query := "SELECT " + loanColumns + " FROM loan_applications WHERE id = $1 FOR UPDATE"
	return scanLoan(s.execer(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresLoanStore) Update(ctx context.Context, loan *models.LoanApplication) error {
	features, err := json.Marshal(loan.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	explanation, err := marshalExplanation(loan.Explanation)
	if err != nil {
		return err
	}

	query := `
		UPDATE loan_applications
		SET features = $1, status = $2, explanation = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		features, string(loan.Status), explanation, loan.ID, loan.Version,
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone else bumped the version.
		if _, getErr := s.Get(ctx, loan.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	loan.Version++
	return nil
}

func (s *PostgresLoanStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.LoanApplication, error) {
	query := "SELECT " + loanColumns + " FROM loan_applications WHERE user_id = $1 ORDER BY created_at DESC"
	rows, err := s.execer(ctx).QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list loans by owner: %w", err)
	}
	return scanLoans(rows)
}

func (s *PostgresLoanStore) ListByStatus(ctx context.Context, status models.Status) ([]models.LoanApplication, error) {
	query := "SELECT " + loanColumns + " FROM loan_applications WHERE status = $1 ORDER BY created_at ASC"
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list loans by status: %w", err)
	}
	return scanLoans(rows)
}

func marshalExplanation(explanation map[string]float64) ([]byte, error) {
	if explanation == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(explanation)
	if err != nil {
		return nil, fmt.Errorf("encode explanation: %w", err)
	}
	return encoded, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoanRow(row rowScanner) (*models.LoanApplication, error) {
	var loan models.LoanApplication
	var status string
	var features []byte
	var explanation []byte
	err := row.Scan(&loan.ID, &loan.OwnerID, &features, &status, &explanation, &loan.Version, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(features, &loan.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if explanation != nil {
		if err := json.Unmarshal(explanation, &loan.Explanation); err != nil {
			return nil, fmt.Errorf("decode explanation: %w", err)
		}
	}
	loan.Status = models.Status(status)
	return &loan, nil
}

func scanLoan(row *sql.Row) (*models.LoanApplication, error) {
	loan, err := scanLoanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	return loan, nil
}

func scanLoans(rows *sql.Rows) ([]models.LoanApplication, error) {
	defer rows.Close()
	var out []models.LoanApplication
	for rows.Next() {
		loan, err := scanLoanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		out = append(out, *loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return out, nil
}

// PostgresEditStore persists edit requests. The partial unique index on
// pending requests turns a duplicate filing into a unique violation, which
// surfaces here as sentinel.ErrConflict.
type PostgresEditStore struct {
	db *sql.DB
}

func NewPostgresEditStore(db *sql.DB) *PostgresEditStore {
	return &PostgresEditStore{db: db}
}

func (s *PostgresEditStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Execer(ctx, s.db)
}

const editColumns = `id, user_id, loan_application_id, new_monthly_expenses,
	new_existing_loans, new_loan_tenure_months, withdraw_requested, status, created_at`

func (s *PostgresEditStore) Create(ctx context.Context, req *models.EditRequest) error {
	query := `
		INSERT INTO edit_requests (id, user_id, loan_application_id, new_monthly_expenses,
			new_existing_loans, new_loan_tenure_months, withdraw_requested, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		req.ID, req.RequesterID, req.LoanID,
		req.Changes.NewMonthlyExpenses, req.Changes.NewExistingLoans, req.Changes.NewLoanTenureMonths,
		req.Changes.WithdrawRequested, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert edit request: %w", err)
	}
	return nil
}

func (s *PostgresEditStore) Get(ctx context.Context, id uuid.UUID) (*models.EditRequest, error) {
	query := "SELECT " + editColumns + " FROM edit_requests WHERE id = $1"
	return scanEdit(s.execer(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresEditStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.EditRequest, error) {
	query := "SELECT " + editColumns + " FROM edit_requests WHERE id = $1 FOR UPDATE"
	return scanEdit(s.execer(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresEditStore) Update(ctx context.Context, req *models.EditRequest) error {
	query := `
		UPDATE edit_requests
		SET new_monthly_expenses = $1, new_existing_loans = $2, new_loan_tenure_months = $3,
			withdraw_requested = $4, status = $5
		WHERE id = $6
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		req.Changes.NewMonthlyExpenses, req.Changes.NewExistingLoans, req.Changes.NewLoanTenureMonths,
		req.Changes.WithdrawRequested, string(req.Status), req.ID,
	)
	if err != nil {
		return fmt.Errorf("update edit request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update edit request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresEditStore) FindPendingByLoan(ctx context.Context, loanID uuid.UUID) (*models.EditRequest, error) {
	query := "SELECT " + editColumns + " FROM edit_requests WHERE loan_application_id = $1 AND status = 'pending'"
	return scanEdit(s.execer(ctx).QueryRowContext(ctx, query, loanID))
}

func (s *PostgresEditStore) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.EditRequest, error) {
	query := "SELECT " + editColumns + " FROM edit_requests WHERE loan_application_id = $1 ORDER BY created_at ASC"
	rows, err := s.execer(ctx).QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("list edit requests: %w", err)
	}
	defer rows.Close()

	var out []models.EditRequest
	for rows.Next() {
		req, err := scanEditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edit request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edit requests: %w", err)
	}
	return out, nil
}

func scanEditRow(row rowScanner) (*models.EditRequest, error) {
	var req models.EditRequest
	var status string
	err := row.Scan(&req.ID, &req.RequesterID, &req.LoanID,
		&req.Changes.NewMonthlyExpenses, &req.Changes.NewExistingLoans, &req.Changes.NewLoanTenureMonths,
		&req.Changes.WithdrawRequested, &status, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = models.EditStatus(status)
	return &req, nil
}

func scanEdit(row *sql.Row) (*models.EditRequest, error) {
	req, err := scanEditRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan edit request: %w", err)
	}
	return req, nil
}
