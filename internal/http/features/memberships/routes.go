package memberships

import (
	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers invitation and membership routes.
func (h *Handler) RegisterRoutes(r chi.Router, limiters middleware.RateLimiters) {
	r.With(limiters.Read).Get("/v1/invitations", h.Pending)

	r.Route("/v1/memberships/{id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiters.Write)
			r.Post("/accept", h.Accept)
			r.Post("/reject", h.Reject)
			r.Post("/leave", h.Leave)
			r.Post("/remove", h.Remove)
			r.Put("/permissions", h.SetPermissions)
			r.Put("/role", h.ChangeRole)
		})
		r.With(limiters.Read).Get("/permissions/{key}", h.HasPermission)
	})
}
