package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/response"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

// RequireRole checks the bearer token and the caller's role.
func RequireRole(secret, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "Missing or invalid authorization header")
				return
			}
			claims, err := Parse(strings.TrimPrefix(authz, "Bearer "), secret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "Invalid token", response.CodeInvalidToken)
				return
			}
			if !claims.HasRole(role) {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), ctxClaims, claims)
			ctx = context.WithValue(ctx, logger.UserIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the claims stored by RequireRole.
func ClaimsFrom(ctx context.Context) *Claims {
	if c, ok := ctx.Value(ctxClaims).(*Claims); ok {
		return c
	}
	return nil
}
