package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// AggregationsRepository handles aggregation persistence.
type AggregationsRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewAggregationsRepository creates a new aggregations repository.
func NewAggregationsRepository(db *sql.DB, dialect Dialect) *AggregationsRepository {
	return &AggregationsRepository{db: db, dialect: dialect}
}

const aggregationColumns = `
	a.id, a.name, a.slug, a.description, a.created_by_tenant_id, a.status, a.settings,
	a.share_documents, a.share_analytics, a.share_templates, a.members_can_invite,
	a.max_members, a.created_at, a.updated_at`

// CreateTx inserts an aggregation within a transaction.
func (r *AggregationsRepository) CreateTx(ctx context.Context, q Querier, agg *domain.Aggregation) error {
	settings, err := jsonParam(agg.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	query := `
		INSERT INTO aggregations (
			id, name, slug, description, created_by_tenant_id, status, settings,
			share_documents, share_analytics, share_templates, members_can_invite,
			max_members, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = q.ExecContext(ctx, query,
		agg.ID,
		agg.Name,
		agg.Slug,
		agg.Description,
		agg.CreatedByTenantID,
		agg.Status,
		settings,
		agg.Sharing.ShareDocuments,
		agg.Sharing.ShareAnalytics,
		agg.Sharing.ShareTemplates,
		agg.Sharing.MembersCanInvite,
		agg.MaxMembers,
		r.dialect.Time(agg.CreatedAt),
		r.dialect.Time(agg.UpdatedAt),
	)
	return err
}

// GetByID retrieves an aggregation by ID.
func (r *AggregationsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Aggregation, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

// GetByIDTx retrieves an aggregation by ID within a transaction.
func (r *AggregationsRepository) GetByIDTx(ctx context.Context, q Querier, id uuid.UUID) (*domain.Aggregation, error) {
	query := `SELECT ` + aggregationColumns + ` FROM aggregations a WHERE a.id = $1`
	return r.getOne(q.QueryRowContext(ctx, query, id))
}

// LockTx retrieves an aggregation and, on backends that support it, locks
// its row until the transaction ends. Acceptances on the same aggregation
// serialize on this lock, which keeps the capacity check and the accepting
// write atomic.
func (r *AggregationsRepository) LockTx(ctx context.Context, q Querier, id uuid.UUID) (*domain.Aggregation, error) {
	query := `SELECT ` + aggregationColumns + ` FROM aggregations a WHERE a.id = $1` + r.dialect.lockRow()
	return r.getOne(q.QueryRowContext(ctx, query, id))
}

// GetBySlug retrieves an aggregation by slug.
func (r *AggregationsRepository) GetBySlug(ctx context.Context, slug string) (*domain.Aggregation, error) {
	query := `SELECT ` + aggregationColumns + ` FROM aggregations a WHERE a.slug = $1`
	return r.getOne(r.db.QueryRowContext(ctx, query, slug))
}

func (r *AggregationsRepository) getOne(row *sql.Row) (*domain.Aggregation, error) {
	agg, err := scanAggregation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAggregationNotFound
		}
		return nil, err
	}
	return agg, nil
}

// SlugExistsTx reports whether slug is taken.
func (r *AggregationsRepository) SlugExistsTx(ctx context.Context, q Querier, slug string) (bool, error) {
	var found int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM aggregations WHERE slug = $1`, slug).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStatusTx moves an aggregation to status "to" only if its current
// status is one of "from". It reports whether a row changed.
func (r *AggregationsRepository) UpdateStatusTx(ctx context.Context, q Querier, id uuid.UUID, from []domain.AggregationStatus, to domain.AggregationStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("at least one expected status is required")
	}

	args := []any{to, r.dialect.Time(now), id}
	inList := ""
	for i, s := range from {
		if i > 0 {
			inList += ", "
		}
		args = append(args, s)
		inList += fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE aggregations
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN (` + inList + `)
	`
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListForTenant retrieves the aggregations in which tenantID holds an
// accepted membership. When activeOnly is set, suspended and archived
// aggregations are skipped.
func (r *AggregationsRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*domain.Aggregation, error) {
	query := `
		SELECT ` + aggregationColumns + `
		FROM aggregations a
		INNER JOIN aggregation_members m ON m.aggregation_id = a.id
		WHERE m.tenant_id = $1 AND m.status = 'accepted'
	`
	if activeOnly {
		query += ` AND a.status = 'active'`
	}
	query += ` ORDER BY a.created_at ASC, a.id ASC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregations []*domain.Aggregation
	for rows.Next() {
		agg, err := scanAggregation(rows)
		if err != nil {
			return nil, err
		}
		aggregations = append(aggregations, agg)
	}
	return aggregations, rows.Err()
}

func scanAggregation(row rowScanner) (*domain.Aggregation, error) {
	var (
		agg        domain.Aggregation
		maxMembers sql.NullInt64
	)
	err := row.Scan(
		&agg.ID,
		&agg.Name,
		&agg.Slug,
		&agg.Description,
		&agg.CreatedByTenantID,
		&agg.Status,
		scanJSON(&agg.Settings),
		&agg.Sharing.ShareDocuments,
		&agg.Sharing.ShareAnalytics,
		&agg.Sharing.ShareTemplates,
		&agg.Sharing.MembersCanInvite,
		&maxMembers,
		scanTime(&agg.CreatedAt),
		scanTime(&agg.UpdatedAt),
	)
	if err != nil {
		return nil, err
	}
	if maxMembers.Valid {
		n := int(maxMembers.Int64)
		agg.MaxMembers = &n
	}
	return &agg, nil
}
