package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := NewToken("secret", "alice", time.Hour)
	require.NoError(t, err)

	addr, err := VerifyToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", addr)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewToken("secret", "alice", time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken("other", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpired(t *testing.T) {
	token, err := NewToken("secret", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken("secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	_, err := VerifyToken("secret", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
