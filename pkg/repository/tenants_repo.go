package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// TenantsRepository reads the tenant directory.
type TenantsRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewTenantsRepository creates a new tenants repository.
func NewTenantsRepository(db *sql.DB, dialect Dialect) *TenantsRepository {
	return &TenantsRepository{db: db, dialect: dialect}
}

const tenantColumns = `id, name, slug, contact_email, created_at, updated_at, deleted_at`

// Create registers a tenant. The provisioning system owns tenants; this is
// used for seeding and tests.
func (r *TenantsRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	return r.CreateTx(ctx, r.db, tenant)
}

// CreateTx registers a tenant within a transaction.
func (r *TenantsRepository) CreateTx(ctx context.Context, q Querier, tenant *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, contact_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		tenant.ContactEmail,
		r.dialect.Time(tenant.CreatedAt),
		r.dialect.Time(tenant.UpdatedAt),
	)
	return err
}

// GetByID retrieves a tenant by ID.
func (r *TenantsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1 AND deleted_at IS NULL`

	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

// GetBySlug retrieves a tenant by slug.
func (r *TenantsRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1 AND deleted_at IS NULL`

	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

// GetByIDs retrieves the known tenants among ids, keyed by ID. Unknown ids
// are simply absent from the result.
func (r *TenantsRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Tenant, error) {
	result := make(map[uuid.UUID]*domain.Tenant, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE deleted_at IS NULL AND id IN (` +
		strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result[tenant.ID] = tenant
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Slug,
		&tenant.ContactEmail,
		scanTime(&tenant.CreatedAt),
		scanTime(&tenant.UpdatedAt),
		scanNullTime(&tenant.DeletedAt),
	)
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
