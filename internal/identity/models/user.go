package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "fairfin/pkg/domain-errors"
)

// Role is the closed set of portal roles. Construct via ParseRole at trust
// boundaries; direct casting bypasses validation.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAnalyst  Role = "analyst"
	RoleAdmin    Role = "admin"
)

var validRoles = map[Role]bool{
	RoleCustomer: true,
	RoleAnalyst:  true,
	RoleAdmin:    true,
}

// ParseRole constructs a Role from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role: "+s)
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	return validRoles[r]
}

// Privileged reports whether the role grants review or administration rights.
func (r Role) Privileged() bool {
	return r == RoleAnalyst || r == RoleAdmin
}

// CanReview reports whether the role may decide loans and resolve edit
// requests.
func (r Role) CanReview() bool {
	return r == RoleAnalyst || r == RoleAdmin
}

// User is a portal identity created on first successful login.
//
// Invariants:
//   - SubjectID is unique and immutable once created
//   - Email is unique
//   - Role is one of the closed role set; a caller-requested role never
//     overrides the stored one
type User struct {
	ID        uuid.UUID `json:"id"`
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser constructs a User, enforcing construction invariants.
func NewUser(id uuid.UUID, subjectID, email string, role Role, now time.Time) (*User, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is required")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid role")
	}
	return &User{
		ID:        id,
		SubjectID: subjectID,
		Email:     email,
		Role:      role,
		CreatedAt: now,
	}, nil
}
