// ABOUTME: HTTP middleware guarding mutating API endpoints with bearer tokens
// ABOUTME: Extracts the JWT from the Authorization header and stashes the operator

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware returns an HTTP middleware validating bearer tokens with the
// given verifier. The operator name from the token lands in the request
// context for handlers that want to attribute actions.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			operator, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the operator name set by Middleware, or
// empty when the request was unauthenticated.
func OperatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(contextKey{}).(string)
	return operator
}
