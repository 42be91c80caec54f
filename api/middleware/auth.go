package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumenworks/studiobook-backend/api/responses"
	pkgauth "github.com/lumenworks/studiobook-backend/pkg/auth"
	"github.com/lumenworks/studiobook-backend/pkg/config"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
// Session issuance lives in the identity service; only the signature and the
// registered claims are checked here.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxRole, claims.Role)
			if claims.StudioID != nil {
				ctx = context.WithValue(ctx, ctxStudioID, claims.StudioID.String())
			}

			if logg != nil {
				ctx = logg.WithField(ctx, "user_id", claims.UserID.String())
				ctx = logg.WithActorRole(ctx, claims.Role)
				if claims.StudioID != nil {
					ctx = logg.WithStudioID(ctx, claims.StudioID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated role is not in the allowed set.
func RequireRole(logg *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if _, ok := allowed[role]; !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
