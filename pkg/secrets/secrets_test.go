package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fairfin/pkg/domain-errors"
)

func TestHashAndVerify(t *testing.T) {
	digest, err := Hash("some-signed-token")
	require.NoError(t, err)
	require.NotEqual(t, "some-signed-token", digest)

	assert.NoError(t, Verify("some-signed-token", digest))
	assert.True(t, dErrors.HasCode(Verify("other-token", digest), dErrors.CodeInvalidInput))
}

func TestHashRejectsEmptyCredential(t *testing.T) {
	_, err := Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestHashAcceptsLongCredentials(t *testing.T) {
	// Signed JWTs are far longer than bcrypt's 72-byte input limit.
	token := strings.Repeat("eyJhbGciOiJIUzI1NiJ9.", 30)
	digest, err := Hash(token)
	require.NoError(t, err)
	assert.NoError(t, Verify(token, digest))
}
