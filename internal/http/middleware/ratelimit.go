package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/florenceegi/egi-hub/internal/config"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				attrs := []any{"ip", r.RemoteAddr, "path", r.URL.Path, "method", r.Method}
				if tenantID, ok := GetActorTenantID(r.Context()); ok {
					attrs = append(attrs, "actor_tenant_id", tenantID)
				}
				cfg.Logger.Warn("rate limit exceeded", attrs...)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// RateLimiters holds the limiter for each endpoint class.
type RateLimiters struct {
	// Read guards queries.
	Read func(http.Handler) http.Handler
	// Write guards state transitions.
	Write func(http.Handler) http.Handler
}

// CreateRateLimiters creates rate limiting middleware based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) RateLimiters {
	if !cfg.Enabled {
		return RateLimiters{Read: NoRateLimit(), Write: NoRateLimit()}
	}

	return RateLimiters{
		Read: RateLimit(RateLimitConfig{
			Requests: cfg.RequestsPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
		Write: RateLimit(RateLimitConfig{
			Requests: cfg.WriteRequestsPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
	}
}
