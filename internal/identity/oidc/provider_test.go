package oidc

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairfin/internal/platform/config"
	dErrors "fairfin/pkg/domain-errors"
)

func signedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestDecodeClaims(t *testing.T) {
	idToken := signedIDToken(t, jwt.MapClaims{
		"sub":   "auth0|user-1",
		"email": "user@example.com",
	})

	claims, err := DecodeClaims(idToken)
	require.NoError(t, err)
	assert.Equal(t, "auth0|user-1", claims.SubjectID)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestDecodeClaimsMissingSubject(t *testing.T) {
	idToken := signedIDToken(t, jwt.MapClaims{"email": "user@example.com"})

	_, err := DecodeClaims(idToken)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestDecodeClaimsMissingEmail(t *testing.T) {
	idToken := signedIDToken(t, jwt.MapClaims{"sub": "auth0|user-1"})

	_, err := DecodeClaims(idToken)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestDecodeClaimsGarbage(t *testing.T) {
	_, err := DecodeClaims("not-a-jwt")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestBuildAuthURLCarriesRoleHintInState(t *testing.T) {
	p := NewProvider(config.Auth0Config{
		Domain:      "fairfin.auth0.com",
		ClientID:    "client-123",
		RedirectURI: "http://localhost:8080/auth/callback",
	})

	u := p.BuildAuthURL("analyst")
	assert.Contains(t, u, "https://fairfin.auth0.com/authorize?")
	assert.Contains(t, u, "state=analyst")
	assert.Contains(t, u, "client_id=client-123")
	assert.Contains(t, u, "response_type=code")
}
