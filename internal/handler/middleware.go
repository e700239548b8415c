package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/service"
)

type contextKey string

const orgIDKey contextKey = "orgID"

// JWTAuthMiddleware validates Bearer tokens and injects the caller's
// organization into the request context. Route-level organization scoping is
// enforced separately by RequireOrgAccess, because URL params of a nested
// route are not captured yet when a parent router's middleware runs.
func JWTAuthMiddleware(authSvc *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			claims, err := authSvc.ValidateAccessToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), orgIDKey, claims.OrgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOrgAccess rejects requests whose {orgID} route parameter does not
// match the token's organization. A mismatch is 403, not 404, so a caller
// cannot probe for other organizations' account IDs.
func RequireOrgAccess(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			routeOrg := chi.URLParam(r, "orgID")
			tokenOrg := OrgIDFromContext(r.Context())
			if routeOrg != "" && routeOrg != tokenOrg {
				logger.Warn("auth: organization mismatch",
					zap.String("path", r.URL.Path),
					zap.String("token_org", tokenOrg),
				)
				writeError(w, http.StatusForbidden, "token is not scoped to this organization")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OrgIDFromContext extracts the authenticated organization ID from context.
func OrgIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey).(string)
	return v
}
