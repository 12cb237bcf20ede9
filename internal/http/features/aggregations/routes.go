package aggregations

import (
	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers aggregation routes. Mutations go through the
// write limiter.
func (h *Handler) RegisterRoutes(r chi.Router, limiters middleware.RateLimiters) {
	r.Route("/v1/aggregations", func(r chi.Router) {
		r.With(limiters.Read).Get("/", h.List)
		r.With(limiters.Write).Post("/", h.Create)
		r.With(limiters.Read).Get("/{id}", h.Get)
		r.With(limiters.Write).Post("/{id}/archive", h.Archive)
		r.With(limiters.Write).Post("/{id}/suspend", h.Suspend)
		r.With(limiters.Read).Get("/{id}/members", h.Members)
		r.With(limiters.Write).Post("/{id}/invitations", h.Invite)
	})
}
