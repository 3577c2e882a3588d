// Package authgate implements the Tenant & Auth Scoping Gate (C9):
// resolving an opaque credential into (user_id, tenant_id,
// allowed_departments, role), fail-secure on anything it cannot verify.
// Grounded on the teacher's own JWT-claims shape
// (intelligencedev-manifold/auth_handlers.go's JWTCustomClaims embedding
// jwt.RegisteredClaims) adapted from echo-jwt middleware to a standalone
// verifier the WebSocket transport calls on `verify`.
package authgate

import (
	"context"
	"fmt"
	"strings"

	"cogstream/internal/config"
	"cogstream/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload this gate expects. Any claim it cannot read
// (missing or wrong-typed) resolves to the zero value for that field,
// which the fail-secure Scope.Empty() check downstream treats as no
// access — never a panic, never a special-cased error path.
type Claims struct {
	UserID             string   `json:"user_id"`
	TenantID           string   `json:"tenant_id"`
	AllowedDepartments []string `json:"allowed_departments"`
	Role               string   `json:"role"`
	jwt.RegisteredClaims
}

// Gate verifies the opaque credential handed to `verify` frames. The
// transport mechanism (cookie/bearer header/SSO handoff) is external;
// this gate only verifies and decodes whatever token string it is given.
type Gate struct {
	secret []byte
}

func New(cfg config.AuthGateConfig) *Gate {
	return &Gate{secret: []byte(cfg.JWTSecret)}
}

// Resolve verifies credential and returns the scope it carries. A
// missing, malformed, or badly-signed credential is NOT an error the
// caller should surface as a protocol failure — it fail-secures to an
// empty Scope, the same as a credential that verifies but carries
// neither user_id nor tenant_id. The error return exists only so the
// caller can log the verification failure; callers must not treat a
// non-nil error as reason to reject the connection outright (spec.md
// §4.9: "authenticated-anonymous", not refused).
func (g *Gate) Resolve(ctx context.Context, credential string) (domain.Scope, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return domain.Scope{}, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authgate: unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Scope{}, err
	}

	return domain.Scope{
		UserID:             claims.UserID,
		TenantID:           claims.TenantID,
		AllowedDepartments: claims.AllowedDepartments,
		Role:               claims.Role,
	}, nil
}
