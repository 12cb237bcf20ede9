package access

import (
	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers access routes.
func (h *Handler) RegisterRoutes(r chi.Router, limiters middleware.RateLimiters) {
	r.Group(func(r chi.Router) {
		r.Use(limiters.Read)
		r.Get("/v1/access", h.Accessible)
		r.Get("/v1/access/{tenantID}", h.CanAccess)
	})
}
