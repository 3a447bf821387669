package cmn

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewCenterNodeID generates a stable, opaque id for a newly-bootstrapped
// center node: "center-{uuid}" per spec §4.G. Persisted on disk, never
// regenerated once written.
func NewCenterNodeID() string {
	return fmt.Sprintf("center-%s", uuid.NewString())
}

// NewRegistrationSecret mints the 32 random bytes, base64url-encoded, named
// in spec §6 "Registration secret format". Returned to the caller exactly
// once, at node creation.
func NewRegistrationSecret() (secret string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns sha256(secret) in hex, the only form a secret is ever
// persisted in.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// MatchesToken implements the constant-time comparison invariant (§8,
// property 6): true iff sha256(token).hex == tokenHash, independent of the
// position of the first differing byte.
func MatchesToken(tokenHash, token string) bool {
	want, err := hex.DecodeString(tokenHash)
	if err != nil {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	if len(want) != len(sum) {
		return false
	}
	return subtle.ConstantTimeCompare(want, sum[:]) == 1
}
