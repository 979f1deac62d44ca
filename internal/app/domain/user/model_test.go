package user

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserValidation(t *testing.T) {
	u, err := New("alice", "alice@example.com", ProviderLocal)
	require.NoError(t, err)
	assert.True(t, u.Enabled)
	assert.False(t, u.ID.IsZero())

	_, err = New("", "alice@example.com", ProviderLocal)
	assert.Error(t, err)

	_, err = New("alice", "not-an-email", ProviderLocal)
	assert.Error(t, err)

	_, err = New("alice", "alice@example.com", AuthProvider("github"))
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	u, err := New("bob", "bob@example.com", ProviderLocal)
	require.NoError(t, err)

	require.NoError(t, u.SetPassword("correct horse battery"))
	assert.True(t, strings.HasPrefix(u.PasswordHash, "$argon2id$"))

	assert.True(t, u.VerifyPassword("correct horse battery"))
	assert.False(t, u.VerifyPassword("wrong"))

	assert.Error(t, u.SetPassword("short"))
}

func TestVerifyPasswordRejectsGarbageHash(t *testing.T) {
	assert.False(t, VerifyPassword("", "anything"))
	assert.False(t, VerifyPassword("$bcrypt$whatever", "anything"))
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"admin", "event_manager", "event_viewer", "user"} {
		role, err := ParseRole(valid)
		require.NoError(t, err)
		assert.Equal(t, Role(valid), role)
	}

	_, err := ParseRole("superuser")
	assert.Error(t, err)
}

func TestNewAPIKey(t *testing.T) {
	u, err := New("carol", "carol@example.com", ProviderLocal)
	require.NoError(t, err)

	key, secret, err := NewAPIKey(u.ID, "ci", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, "xzepr_"))
	assert.Equal(t, HashSecret(secret), key.SecretHash)
	assert.NotContains(t, key.SecretHash, secret)
	assert.True(t, key.Valid(time.Now()))

	_, _, err = NewAPIKey(u.ID, "", nil)
	assert.Error(t, err)
}

func TestAPIKeyExpiry(t *testing.T) {
	u, _ := New("dave", "dave@example.com", ProviderLocal)
	past := time.Now().Add(-time.Hour)
	key, _, err := NewAPIKey(u.ID, "expired", &past)
	require.NoError(t, err)

	assert.False(t, key.Valid(time.Now()))

	key.ExpiresAt = nil
	key.Enabled = false
	assert.False(t, key.Valid(time.Now()))
}
