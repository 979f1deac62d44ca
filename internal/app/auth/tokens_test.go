package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

func newTestManager(t *testing.T, rotate bool) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Algorithm:      "HS256",
		SecretKey:      "0123456789abcdef0123456789abcdef",
		Issuer:         "xzepr",
		Audience:       "xzepr",
		AccessTTL:      time.Minute,
		RefreshTTL:     time.Hour,
		EnableRotation: rotate,
	})
	require.NoError(t, err)
	return m
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t, false)

	access, refresh, err := m.Issue("01HUSER", []string{"admin"})
	require.NoError(t, err)
	assert.NotEqual(t, access, refresh)

	claims, err := m.Verify(access, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "01HUSER", claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newTestManager(t, false)
	_, refresh, err := m.Issue("u1", nil)
	require.NoError(t, err)

	_, err = m.Verify(refresh, TokenTypeAccess)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := newTestManager(t, false)
	_, err := m.Verify("not.a.jwt", TokenTypeAccess)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	m1 := newTestManager(t, false)
	m2, err := NewManager(Config{
		Algorithm: "HS256",
		SecretKey: "ffffffffffffffffffffffffffffffff",
		Issuer:    "xzepr",
		Audience:  "xzepr",
	})
	require.NoError(t, err)

	access, _, err := m1.Issue("u1", nil)
	require.NoError(t, err)

	_, err = m2.Verify(access, TokenTypeAccess)
	assert.Error(t, err)
}

func TestRevokeBlocksToken(t *testing.T) {
	m := newTestManager(t, false)
	access, _, err := m.Issue("u1", nil)
	require.NoError(t, err)

	claims, err := m.Verify(access, TokenTypeAccess)
	require.NoError(t, err)

	m.Revoke(claims)

	_, err = m.Verify(access, TokenTypeAccess)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}

func TestRefreshRotationRevokesOldToken(t *testing.T) {
	m := newTestManager(t, true)
	_, refresh, err := m.Issue("u1", []string{"user"})
	require.NoError(t, err)

	access2, refresh2, err := m.Refresh(refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, access2)
	assert.NotEmpty(t, refresh2)

	// The original refresh token is now revoked.
	_, _, err = m.Refresh(refresh)
	assert.Error(t, err)
}

func TestRefreshWithoutRotationKeepsOldToken(t *testing.T) {
	m := newTestManager(t, false)
	_, refresh, err := m.Issue("u1", nil)
	require.NoError(t, err)

	_, _, err = m.Refresh(refresh)
	require.NoError(t, err)
	_, _, err = m.Refresh(refresh)
	assert.NoError(t, err)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{Algorithm: "HS256"})
	assert.Error(t, err)

	_, err = NewManager(Config{Algorithm: "RS256"})
	assert.Error(t, err)

	_, err = NewManager(Config{Algorithm: "ES256", SecretKey: "k"})
	assert.Error(t, err)
}

func TestBlacklistSweep(t *testing.T) {
	b := NewBlacklist()
	b.Add("expired", time.Now().Add(-time.Minute))
	b.Add("live", time.Now().Add(time.Hour))

	assert.False(t, b.Contains("expired"))
	assert.True(t, b.Contains("live"))

	b.Sweep()
	assert.Equal(t, 1, b.Len())
}
