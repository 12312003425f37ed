package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashRefreshToken returns the SHA-256 hex digest stored in place of the raw refresh token
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual compares the hash of the presented token with the stored hash in constant time
func RefreshTokenHashEqual(presented, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashRefreshToken(presented)), []byte(storedHash)) == 1
}
