package http

import (
	"log/slog"
	"net/http"

	"github.com/florenceegi/egi-hub/internal/config"
	"github.com/florenceegi/egi-hub/internal/http/features/access"
	"github.com/florenceegi/egi-hub/internal/http/features/aggregations"
	"github.com/florenceegi/egi-hub/internal/http/features/memberships"
	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/pkg/auth"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	Federation      *federation.Service
	TokenService    *auth.TokenService
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	// Every federation route acts on behalf of the token's tenant
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenService))

		aggregations.NewHandler(cfg.Logger, cfg.Federation).RegisterRoutes(r, rateLimiters)
		memberships.NewHandler(cfg.Logger, cfg.Federation).RegisterRoutes(r, rateLimiters)
		access.NewHandler(cfg.Logger, cfg.Federation).RegisterRoutes(r, rateLimiters)
	})

	return r
}
