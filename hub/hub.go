// Package hub wires the aggregation federation core into an embeddable
// HTTP service.
//
// Setup:
//
//  1. Apply the migrations for your backend (repository.ApplyMigrations
//     with migrations.FS, or your preferred tool)
//  2. Create a Hub and mount its router
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/egi_hub?sslmode=disable")
//
//	h, err := hub.New(hub.Config{
//	    DB:        db,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	http.ListenAndServe(":8080", h.Router())
//
// With invitation emails:
//
//	h, err := hub.New(hub.Config{
//	    DB:        db,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	    SMTP: &hub.SMTPConfig{
//	        Host: "smtp.example.com",
//	        Port: 587,
//	        From: "hub@example.com",
//	    },
//	})
package hub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/florenceegi/egi-hub/internal/config"
	httpserver "github.com/florenceegi/egi-hub/internal/http"
	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/internal/notification"
	"github.com/florenceegi/egi-hub/pkg/auth"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/florenceegi/egi-hub/pkg/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const defaultMaxRequestBodySize = 64 << 10

// Config holds the configuration for the hub.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// Dialect selects the SQL backend (default: postgres).
	Dialect repository.Dialect

	// JWTSecret is the secret key for verifying actor tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim actor tokens must carry (default: "egi-hub").
	JWTIssuer string

	// InvitationExpiry is the lifetime of invitations (default: 30 days).
	InvitationExpiry time.Duration

	// MembersCanInvite is the default invite policy of new aggregations (default: true).
	MembersCanInvite *bool

	// DefaultMaxMembers caps new aggregations without their own limit (default: unlimited).
	DefaultMaxMembers int

	// RequestsPerMinute is the per-IP limit on queries. Zero disables rate
	// limiting. WriteRequestsPerMinute limits state changes and defaults to
	// RequestsPerMinute.
	RequestsPerMinute      int
	WriteRequestsPerMinute int

	// MaxRequestBodySize bounds JSON bodies (default: 64 KiB).
	MaxRequestBodySize int64

	// SecurityHeaders sets API security headers on every response.
	SecurityHeaders bool

	// SMTP enables invitation emails (optional).
	SMTP *SMTPConfig

	// Notifier receives membership events (optional). Takes precedence over SMTP.
	Notifier federation.Notifier

	// Clock is the time source (default: wall clock).
	Clock clock.Clock

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger
}

// SMTPConfig holds the outgoing mail server for invitation emails.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string

	// Timeout bounds each delivery (default: 10 seconds).
	Timeout time.Duration
}

// Hub is the main federation instance.
type Hub struct {
	config       Config
	db           *sql.DB
	tenantsRepo  *repository.TenantsRepository
	federation   *federation.Service
	tokenService *auth.TokenService
}

// New creates a new Hub with the given configuration.
// Returns an error if required database tables don't exist.
func New(cfg Config) (*Hub, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := repository.ValidateSchema(context.Background(), cfg.DB, cfg.Dialect); err != nil {
		return nil, fmt.Errorf("hub: %w", err)
	}

	aggregationsRepo := repository.NewAggregationsRepository(cfg.DB, cfg.Dialect)
	membershipsRepo := repository.NewMembershipsRepository(cfg.DB, cfg.Dialect)
	tenantsRepo := repository.NewTenantsRepository(cfg.DB, cfg.Dialect)

	notifier := cfg.Notifier
	if notifier == nil && cfg.SMTP != nil {
		email := notification.NewEmailService(notification.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			Timeout:  cfg.SMTP.Timeout,
		})
		notifier = notification.NewInvitationNotifier(email, tenantsRepo, cfg.Logger)
		cfg.Logger.Info("invitation emails enabled", "smtp_host", cfg.SMTP.Host)
	}

	federationService := federation.NewService(federation.Config{
		InvitationExpiry:  cfg.InvitationExpiry,
		MembersCanInvite:  cfg.MembersCanInvite,
		DefaultMaxMembers: cfg.DefaultMaxMembers,
		Clock:             cfg.Clock,
		Logger:            cfg.Logger,
		Notifier:          notifier,
	}, cfg.DB, aggregationsRepo, membershipsRepo, tenantsRepo)

	tokenService := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		Clock:  cfg.Clock,
	})

	return &Hub{
		config:       cfg,
		db:           cfg.DB,
		tenantsRepo:  tenantsRepo,
		federation:   federationService,
		tokenService: tokenService,
	}, nil
}

// Router returns a chi router with the health check and every federation
// route. All routes except /health require an actor token:
//
//	POST /v1/aggregations                          - Create an aggregation
//	GET  /v1/aggregations                          - List the actor's aggregations
//	GET  /v1/aggregations/{id}                     - Get an aggregation by ID or slug
//	POST /v1/aggregations/{id}/archive             - Archive (admin)
//	POST /v1/aggregations/{id}/suspend             - Suspend (admin)
//	GET  /v1/aggregations/{id}/members             - List members (?status=)
//	POST /v1/aggregations/{id}/invitations         - Invite a tenant
//	GET  /v1/invitations                           - Actor's pending invitations
//	POST /v1/memberships/{id}/accept|reject|leave|remove
//	PUT  /v1/memberships/{id}/permissions|role     - Admin updates
//	GET  /v1/memberships/{id}/permissions/{key}    - Resolve a permission
//	GET  /v1/access                                - Accessible tenants (?grouped=true)
//	GET  /v1/access/{tenantID}                     - Can the actor see tenantID
func (h *Hub) Router() chi.Router {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:       h.config.Logger,
		Federation:   h.federation,
		TokenService: h.tokenService,
		RateLimitConfig: config.RateLimitConfig{
			Enabled:                h.config.RequestsPerMinute > 0,
			RequestsPerMinute:      h.config.RequestsPerMinute,
			WriteRequestsPerMinute: h.config.WriteRequestsPerMinute,
		},
		SecurityHeaders: config.SecurityHeadersConfig{
			Enabled:            h.config.SecurityHeaders,
			CSP:                "default-src 'none'; frame-ancestors 'none'",
			FrameOptions:       "DENY",
			ContentTypeOptions: "nosniff",
			ReferrerPolicy:     "no-referrer",
		},
		Validation: config.ValidationConfig{MaxRequestBodySize: h.config.MaxRequestBodySize},
	})
}

// Handler returns the router as a plain http.Handler.
func (h *Hub) Handler() http.Handler {
	return h.Router()
}

// Federation returns the federation service for direct library use.
func (h *Hub) Federation() *federation.Service {
	return h.federation
}

// TokenService returns the actor token service.
func (h *Hub) TokenService() *auth.TokenService {
	return h.tokenService
}

// Tenants returns the tenant directory.
func (h *Hub) Tenants() *repository.TenantsRepository {
	return h.tenantsRepo
}

// Sweeper returns a worker that expires lapsed invitations every interval.
func (h *Hub) Sweeper(interval time.Duration) *federation.Sweeper {
	return federation.NewSweeper(h.federation, interval)
}

// AuthMiddleware returns middleware that validates actor tokens.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(h.AuthMiddleware())
//	    r.Get("/shared-documents", handler)
//	})
func (h *Hub) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(h.tokenService)
}

// GetActorTenantID extracts the acting tenant from a context.
// Use after AuthMiddleware:
//
//	tenantID, ok := hub.GetActorTenantID(r.Context())
func GetActorTenantID(ctx context.Context) (uuid.UUID, bool) {
	return middleware.GetActorTenantID(ctx)
}

// HealthHandler returns a simple health check handler.
func (h *Hub) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.db.PingContext(r.Context()); err != nil {
			httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("hub: DB is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("hub: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("hub: JWTSecret must be at least 32 characters")
	}
	if cfg.Dialect != "" && !cfg.Dialect.Valid() {
		return fmt.Errorf("hub: unsupported dialect %q", cfg.Dialect)
	}
	if cfg.DefaultMaxMembers < 0 {
		return errors.New("hub: DefaultMaxMembers must not be negative")
	}
	if cfg.SMTP != nil && (cfg.SMTP.Host == "" || cfg.SMTP.From == "") {
		return errors.New("hub: SMTP Host and From are required when SMTP is configured")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dialect == "" {
		cfg.Dialect = repository.DialectPostgres
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "egi-hub"
	}
	if cfg.WriteRequestsPerMinute <= 0 {
		cfg.WriteRequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.MaxRequestBodySize == 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}
