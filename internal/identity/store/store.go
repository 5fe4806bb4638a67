package store

import (
	"context"

	"github.com/google/uuid"

	"fairfin/internal/identity/models"
)

// UserStore persists portal identities. Implementations return
// sentinel.ErrNotFound and sentinel.ErrConflict for the corresponding facts;
// role and ownership rules live in the service layer.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindBySubject(ctx context.Context, subjectID string) (*models.User, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	Save(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
