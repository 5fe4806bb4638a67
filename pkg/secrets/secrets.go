// Package secrets hashes session credentials at rest. Session records store a
// bcrypt digest of the signed token, never the token itself, so a leaked
// session table cannot be replayed against the API.
package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "fairfin/pkg/domain-errors"
)

// Hash returns a bcrypt digest of the credential for at-rest storage. The
// credential is pre-hashed with SHA-256 because signed tokens exceed bcrypt's
// 72-byte input limit.
func Hash(credential string) (string, error) {
	if credential == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential cannot be empty")
	}
	sum := sha256.Sum256([]byte(credential))
	digest, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether the presented credential matches the stored digest.
func Verify(credential, digest string) error {
	sum := sha256.Sum256([]byte(credential))
	if err := bcrypt.CompareHashAndPassword([]byte(digest), sum[:]); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeInvalidInput, "credential mismatch")
		}
		return fmt.Errorf("verify credential: %w", err)
	}
	return nil
}
