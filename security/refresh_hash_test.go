package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashRefreshToken(t *testing.T) {
	h := HashRefreshToken("token-a")

	assert.Len(t, h, 64)
	assert.Equal(t, h, HashRefreshToken("token-a"))
	assert.NotEqual(t, h, HashRefreshToken("token-b"))
}

func TestRefreshTokenHashEqual(t *testing.T) {
	stored := HashRefreshToken("token-a")

	assert.True(t, RefreshTokenHashEqual("token-a", stored))
	assert.False(t, RefreshTokenHashEqual("token-b", stored))
	assert.False(t, RefreshTokenHashEqual("token-a", ""))
}
