package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// SCRYPT parameters for the reset token digest (OWASP recommended).
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	tokenSaltLen = 16
)

// ResetTokenVerifier holds an SCRYPT digest of the support reset token so
// the raw secret is not kept resident after startup. A nil verifier rejects
// every token, which disables the reset endpoint.
type ResetTokenVerifier struct {
	salt   []byte
	digest []byte
}

// NewResetTokenVerifier derives the digest of the configured token with a
// fresh random salt. An empty token yields a nil verifier.
func NewResetTokenVerifier(token string) (*ResetTokenVerifier, error) {
	if token == "" {
		return nil, nil
	}

	salt := make([]byte, tokenSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate token salt: %w", err)
	}

	digest, err := scrypt.Key([]byte(token), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token digest: %w", err)
	}

	return &ResetTokenVerifier{salt: salt, digest: digest}, nil
}

// Verify reports whether the presented token matches the configured one. The
// digest comparison is constant time.
func (v *ResetTokenVerifier) Verify(token string) bool {
	if v == nil || token == "" {
		return false
	}

	digest, err := scrypt.Key([]byte(token), v.salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(digest, v.digest) == 1
}
