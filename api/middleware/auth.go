package middleware

import (
	"net/http"
	"strings"

	"github.com/odoobridge/sync-backend/api/responses"
	pkgAuth "github.com/odoobridge/sync-backend/pkg/auth"
	"github.com/odoobridge/sync-backend/pkg/config"
	pkgerrors "github.com/odoobridge/sync-backend/pkg/errors"
	"github.com/odoobridge/sync-backend/pkg/logger"
)

// Auth validates a bearer service token and seeds the request context
// with the caller identity.
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

			claims, err := pkgAuth.ParseServiceToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithCaller(r.Context(), claims.Subject)
			if logg != nil {
				ctx = logg.WithField(ctx, "caller", claims.Subject)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
