package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndValidate(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := issuer.Generate("ops", ScopeWrite)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "неверный формат JWT")

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.True(t, claims.HasScope(ScopeWrite))
	assert.False(t, claims.HasScope(ScopeAdmin))
}

func TestAdminScopeImpliesAll(t *testing.T) {
	c := &Claims{Scopes: []string{ScopeAdmin}}
	assert.True(t, c.HasScope(ScopeWrite))
	assert.True(t, c.HasScope(ScopeAdmin))
	assert.False(t, (&Claims{}).HasScope(ScopeWrite))
}

func TestValidateInvalidJWT(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	for _, token := range []string{
		"invalid.token.here",
		"",
		"not.a.jwt",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	} {
		_, err := issuer.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "токен %q", token)
	}
}

func TestValidateForeignSecret(t *testing.T) {
	a, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	b, err := NewTokenIssuer("", time.Hour)
	require.NoError(t, err)

	token, err := a.Generate("ops", ScopeWrite)
	require.NoError(t, err)
	_, err = b.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)

	base := time.Now()
	issuer.now = func() time.Time { return base }
	token, err := issuer.Generate("ops", ScopeWrite)
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = issuer.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWeakSecretRejected(t *testing.T) {
	_, err := NewTokenIssuer("short", time.Hour)
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestGenerateSecureSecret(t *testing.T) {
	s1, s2 := GenerateSecureSecret(), GenerateSecureSecret()
	assert.NotEqual(t, s1, s2)
	assert.Len(t, s1, 44)
}
