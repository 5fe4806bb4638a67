package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fairfin/internal/identity/models"
	"fairfin/pkg/platform/sentinel"
	txcontext "fairfin/pkg/platform/tx"
)

// PostgresUserStore persists users in PostgreSQL. This store is pure I/O;
// role rules and find-or-create orchestration belong in the service.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Execer(ctx, s.db)
}

const uniqueViolation = "23505"

func (s *PostgresUserStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, subject_id, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		user.ID, user.SubjectID, user.Email, string(user.Role), user.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, subject_id, email, role, created_at
		FROM users
		WHERE id = $1
	`
	return scanUser(s.execer(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresUserStore) FindBySubject(ctx context.Context, subjectID string) (*models.User, error) {
	query := `
		SELECT id, subject_id, email, role, created_at
		FROM users
		WHERE subject_id = $1
	`
	return scanUser(s.execer(ctx).QueryRowContext(ctx, query, subjectID))
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var role string
	err := row.Scan(&user.ID, &user.SubjectID, &user.Email, &role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Role = models.Role(role)
	return &user, nil
}
