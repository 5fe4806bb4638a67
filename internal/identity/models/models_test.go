package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	dErrors "fairfin/pkg/domain-errors"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"customer", "analyst", "admin"} {
		role, err := ParseRole(valid)
		assert.NoError(t, err)
		assert.Equal(t, Role(valid), role)
	}

	for _, invalid := range []string{"", "superuser", "ADMIN", "user"} {
		_, err := ParseRole(invalid)
		assert.Error(t, err, invalid)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
}

func TestRolePrivileged(t *testing.T) {
	assert.False(t, RoleCustomer.Privileged())
	assert.True(t, RoleAnalyst.Privileged())
	assert.True(t, RoleAdmin.Privileged())
}

func TestNewUserInvariants(t *testing.T) {
	now := time.Now()

	_, err := NewUser(uuid.New(), "", "a@example.com", RoleCustomer, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewUser(uuid.New(), "auth0|abc", "", RoleCustomer, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewUser(uuid.New(), "auth0|abc", "a@example.com", Role("owner"), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	u, err := NewUser(uuid.New(), "auth0|abc", "a@example.com", RoleCustomer, now)
	assert.NoError(t, err)
	assert.Equal(t, "auth0|abc", u.SubjectID)
	assert.Equal(t, RoleCustomer, u.Role)
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := Session{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(2*time.Hour)))
}
