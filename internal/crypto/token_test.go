package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a, err := DeriveKey(testSecret, "salt")
	require.NoError(t, err)
	b, err := DeriveKey(testSecret, "salt")
	require.NoError(t, err)
	c, err := DeriveKey(testSecret, "other")
	require.NoError(t, err)

	assert.Len(t, a, keyLen)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey("", "salt")
	assert.Error(t, err)
}

func TestVerifyAcceptsIssuedToken(t *testing.T) {
	v, err := NewTokenVerifier(testSecret, "salt", "goingthrice", 0)
	require.NoError(t, err)

	raw, err := v.Issue(domain.Identity{UserID: "u-1", Role: domain.RoleSeller}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, domain.RoleSeller, id.Role)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewTokenVerifier(testSecret, "salt", "goingthrice", 0)
	require.NoError(t, err)
	otherKey, err := NewTokenVerifier(testSecret, "different-salt", "goingthrice", 0)
	require.NoError(t, err)
	otherIssuer, err := NewTokenVerifier(testSecret, "salt", "someone-else", 0)
	require.NoError(t, err)

	id := domain.Identity{UserID: "u-1", Role: domain.RoleBuyer}
	expired, err := v.Issue(id, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := otherKey.Issue(id, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.Issue(id, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"wrong issuer", wrongIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.raw)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}
