package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fairfin/pkg/domain-errors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "fairfin")
	userID := uuid.New()
	sessionID := uuid.New()

	signed, err := svc.Generate(userID, sessionID, "customer", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, "customer", claims.Role)
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewService("test-signing-key", "fairfin")

	signed, err := svc.Generate(uuid.New(), uuid.New(), "customer", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateWrongKey(t *testing.T) {
	minter := NewService("key-one", "fairfin")
	validator := NewService("key-two", "fairfin")

	signed, err := minter.Generate(uuid.New(), uuid.New(), "analyst", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateGarbage(t *testing.T) {
	svc := NewService("test-signing-key", "fairfin")
	_, err := svc.ValidateToken("garbage")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
