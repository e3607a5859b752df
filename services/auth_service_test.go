package services

import (
	"testing"

	"trencher/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAuthService(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(makeTestDB(t), "test-secret")
}

func TestRegisterAndLogin(t *testing.T) {
	auth := makeAuthService(t)

	user, err := auth.Register(&RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "correct-horse", user.PasswordHash, "password is stored hashed")

	token, logged, err := auth.Login(&LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	uid, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uid)

	got, err := auth.GetUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	auth := makeAuthService(t)

	_, err := auth.Register(&RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = auth.Register(&RegisterRequest{
		Username: "alice2", Email: "alice@example.com", Password: "correct-horse",
	})
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))

	_, err = auth.Register(&RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: "correct-horse",
	})
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := makeAuthService(t)
	_, err := auth.Register(&RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "correct-horse",
	})
	require.NoError(t, err)

	_, _, err = auth.Login(&LoginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, engine.KindForbidden, engine.KindOf(err))

	_, _, err = auth.Login(&LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	assert.Equal(t, engine.KindForbidden, engine.KindOf(err))

	_, err = auth.ValidateToken("not-a-token")
	assert.Equal(t, engine.KindForbidden, engine.KindOf(err))
}
