package middleware

import (
	"context"
	"net/http"

	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/pkg/auth"
	"github.com/google/uuid"
)

type contextKey string

// ActorTenantIDKey is the context key for the acting tenant.
const ActorTenantIDKey contextKey = "actor_tenant_id"

// Auth creates middleware that validates actor tokens and stores the acting
// tenant in the request context.
func Auth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := httputil.BearerToken(r)
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "missing authorization")
				return
			}

			tenantID, err := tokens.ActorTenantID(tokenString)
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := WithActorTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithActorTenantID returns a context carrying the acting tenant.
func WithActorTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, ActorTenantIDKey, tenantID)
}

// GetActorTenantID extracts the acting tenant from the request context.
func GetActorTenantID(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(ActorTenantIDKey).(uuid.UUID)
	return tenantID, ok
}
