package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/infra/observability"
	"github.com/akazancev/bankcore/internal/port"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware validates Bearer tokens through the identity gate and
// injects the resolved identity into the request context. Resolved
// identities are cached by token so repeated requests skip the gate
// until the cache TTL expires.
func AuthMiddleware(gate port.IdentityGate, cache port.Cache[domain.Identity], metrics *observability.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "authorization token required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			token := parts[1]

			ident, ok := cache.Get(token)
			if ok {
				metrics.IncrCacheHit("identity")
			} else {
				metrics.IncrCacheMiss("identity")
				resolved, err := gate.Authenticate(r.Context(), token)
				if err != nil {
					logger.Warn("auth: authentication failed",
						zap.String("path", r.URL.Path),
						zap.Error(err),
					)
					handleServiceError(w, err, logger)
					return
				}
				ident = *resolved
				cache.Set(token, ident)
			}

			ctx := context.WithValue(r.Context(), identityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) domain.Identity {
	v, _ := ctx.Value(identityKey).(domain.Identity)
	return v
}
