// Package featuretest wires a federation service over a throwaway SQLite
// database for handler tests.
package featuretest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/florenceegi/egi-hub/migrations"
	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/florenceegi/egi-hub/pkg/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Epoch is the mock clock's starting instant.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Env is a federation service plus the pieces tests poke at directly.
type Env struct {
	Service *federation.Service
	Clock   *clock.Mock
	Tenants *repository.TenantsRepository
	Logger  *slog.Logger
	Router  chi.Router
}

// New opens a migrated SQLite database in t.TempDir and builds a service on it.
func New(t *testing.T) *Env {
	t.Helper()
	ctx := context.Background()

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dialect := repository.DialectSQLite
	if err := repository.ApplyMigrations(ctx, db, dialect, migrations.FS); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	mock := clock.NewMock()
	mock.Set(Epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tenants := repository.NewTenantsRepository(db, dialect)
	svc := federation.NewService(federation.Config{Clock: mock, Logger: logger}, db,
		repository.NewAggregationsRepository(db, dialect),
		repository.NewMembershipsRepository(db, dialect),
		tenants,
	)

	return &Env{
		Service: svc,
		Clock:   mock,
		Tenants: tenants,
		Logger:  logger,
		Router:  chi.NewRouter(),
	}
}

// Limiters returns pass-through rate limiters.
func Limiters() middleware.RateLimiters {
	return middleware.RateLimiters{Read: middleware.NoRateLimit(), Write: middleware.NoRateLimit()}
}

// Do sends a request through the env's router as actor. A uuid.Nil actor
// sends the request unauthenticated. body is JSON encoded when non-nil.
func (e *Env) Do(t *testing.T, method, path string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			reader = bytes.NewBufferString(raw)
		} else {
			encoded, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(encoded)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != uuid.Nil {
		req = req.WithContext(middleware.WithActorTenantID(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	e.Router.ServeHTTP(rec, req)
	return rec
}

// Decode unmarshals a recorded JSON response into dst.
func Decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// Create founds an aggregation through the service.
func (e *Env) Create(t *testing.T, creator uuid.UUID, name string, opts federation.CreateOptions) *domain.Aggregation {
	t.Helper()
	agg, _, err := e.Service.CreateAggregation(context.Background(), creator, name, opts)
	if err != nil {
		t.Fatalf("CreateAggregation(%q) error = %v", name, err)
	}
	return agg
}

// Invite invites tenantID on behalf of actor through the service.
func (e *Env) Invite(t *testing.T, aggregationID, tenantID, actor uuid.UUID) *domain.Membership {
	t.Helper()
	m, err := e.Service.Invite(context.Background(), aggregationID, tenantID, actor, "")
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	return m
}

// Join invites and accepts tenantID.
func (e *Env) Join(t *testing.T, aggregationID, tenantID, actor uuid.UUID) *domain.Membership {
	t.Helper()
	m := e.Invite(t, aggregationID, tenantID, actor)
	accepted, err := e.Service.Accept(context.Background(), m.ID, tenantID, "")
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return accepted
}
