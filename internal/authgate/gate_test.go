package authgate

import (
	"context"
	"testing"
	"time"

	"cogstream/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestGate_ResolveValidTokenReturnsScope(t *testing.T) {
	g := New(config.AuthGateConfig{JWTSecret: "s3cr3t"})
	tok := sign(t, "s3cr3t", Claims{
		UserID:             "u1",
		TenantID:           "acme",
		AllowedDepartments: []string{"sales", "support"},
		Role:               "agent",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	scope, err := g.Resolve(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	require.Equal(t, "u1", scope.UserID)
	require.Equal(t, "acme", scope.TenantID)
	require.Equal(t, []string{"sales", "support"}, scope.AllowedDepartments)
	require.Equal(t, "agent", scope.Role)
}

func TestGate_ResolveEmptyCredentialIsAnonymousNotError(t *testing.T) {
	g := New(config.AuthGateConfig{JWTSecret: "s3cr3t"})
	scope, err := g.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.True(t, scope.Empty())
}

func TestGate_ResolveBadSignatureFailSecures(t *testing.T) {
	g := New(config.AuthGateConfig{JWTSecret: "s3cr3t"})
	tok := sign(t, "wrong-secret", Claims{UserID: "u1", TenantID: "acme"})

	scope, err := g.Resolve(context.Background(), tok)
	require.Error(t, err)
	require.True(t, scope.Empty())
}

func TestGate_ResolveExpiredTokenFailSecures(t *testing.T) {
	g := New(config.AuthGateConfig{JWTSecret: "s3cr3t"})
	tok := sign(t, "s3cr3t", Claims{
		UserID: "u1", TenantID: "acme",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	scope, err := g.Resolve(context.Background(), tok)
	require.Error(t, err)
	require.True(t, scope.Empty())
}

func TestGate_ResolveRejectsNoneAlg(t *testing.T) {
	g := New(config.AuthGateConfig{JWTSecret: "s3cr3t"})
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	scope, err := g.Resolve(context.Background(), signed)
	require.Error(t, err)
	require.True(t, scope.Empty())
}

func TestGate_ResolveTrimsBearerPrefix(t *testing.T) {
	g := New(config.AuthGateConfig{JWTSecret: "s3cr3t"})
	tok := sign(t, "s3cr3t", Claims{UserID: "u1", TenantID: "acme"})

	withPrefix, err := g.Resolve(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	bare, err := g.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, withPrefix, bare)
}
