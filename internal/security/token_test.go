package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/pkg/config"
)

const testSigningKey = "test_signing_key_0123456789abcdef0123"

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		SigningKey:         testSigningKey,
		Issuer:             "identity-api",
		Audience:           "identity-clients",
		AccessTokenMinutes: 15,
		RefreshTokenDays:   7,
	}
}

func newTestIssuer(t *testing.T) *TokenIssuer {
	issuer, err := NewTokenIssuer(testJWTConfig())
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuerRejectsBadConfig(t *testing.T) {
	cfg := testJWTConfig()
	cfg.SigningKey = "short"
	_, err := NewTokenIssuer(cfg)
	assert.Error(t, err)

	cfg = testJWTConfig()
	cfg.Audience = ""
	_, err = NewTokenIssuer(cfg)
	assert.Error(t, err)

	cfg = testJWTConfig()
	cfg.AccessTokenMinutes = 0
	_, err = NewTokenIssuer(cfg)
	assert.Error(t, err)
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	issuer := newTestIssuer(t)

	token, expiresAt, err := issuer.IssueAccessToken("u1", "a@x.com", []string{models.RoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, ok := issuer.ValidateAccessToken(token)
	require.True(t, ok)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, []string{models.RoleAdmin}, claims.Roles)
	assert.NotEmpty(t, claims.ID)
}

func TestAccessTokensCarryDistinctIDs(t *testing.T) {
	issuer := newTestIssuer(t)

	first, _, err := issuer.IssueAccessToken("u1", "a@x.com", nil)
	require.NoError(t, err)
	second, _, err := issuer.IssueAccessToken("u1", "a@x.com", nil)
	require.NoError(t, err)

	c1, ok := issuer.ValidateAccessToken(first)
	require.True(t, ok)
	c2, ok := issuer.ValidateAccessToken(second)
	require.True(t, ok)
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestValidateAccessTokenFailures(t *testing.T) {
	issuer := newTestIssuer(t)
	token, _, err := issuer.IssueAccessToken("u1", "a@x.com", nil)
	require.NoError(t, err)

	otherCfg := testJWTConfig()
	otherCfg.SigningKey = strings.Repeat("z", 40)
	other, err := NewTokenIssuer(otherCfg)
	require.NoError(t, err)
	_, ok := other.ValidateAccessToken(token)
	assert.False(t, ok, "wrong key")

	otherCfg = testJWTConfig()
	otherCfg.Issuer = "someone-else"
	other, err = NewTokenIssuer(otherCfg)
	require.NoError(t, err)
	_, ok = other.ValidateAccessToken(token)
	assert.False(t, ok, "wrong issuer")

	otherCfg = testJWTConfig()
	otherCfg.Audience = "other-clients"
	other, err = NewTokenIssuer(otherCfg)
	require.NoError(t, err)
	_, ok = other.ValidateAccessToken(token)
	assert.False(t, ok, "wrong audience")

	_, ok = issuer.ValidateAccessToken("not.a.token")
	assert.False(t, ok, "malformed")
	_, ok = issuer.ValidateAccessToken("")
	assert.False(t, ok, "empty")
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	issuer := newTestIssuer(t)
	issuedAt := time.Now().Add(-time.Hour).UTC()
	issuer.now = func() time.Time { return issuedAt }
	token, _, err := issuer.IssueAccessToken("u1", "a@x.com", nil)
	require.NoError(t, err)

	issuer.now = func() time.Time { return issuedAt.Add(15*time.Minute + time.Second) }
	_, ok := issuer.ValidateAccessToken(token)
	assert.False(t, ok)
}

func TestValidateAccessTokenRejectsOtherAlgorithms(t *testing.T) {
	issuer := newTestIssuer(t)
	claims := &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "identity-api",
			Audience:  jwt.ClaimStrings{"identity-clients"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, ok := issuer.ValidateAccessToken(token)
	assert.False(t, ok)
}

func TestIssueRefreshToken(t *testing.T) {
	issuer := newTestIssuer(t)

	token, expiresAt, err := issuer.IssueRefreshToken()
	require.NoError(t, err)
	assert.Len(t, token, 86)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, 5*time.Second)

	other, _, err := issuer.IssueRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}
