package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// MembershipsRepository handles aggregation membership persistence.
type MembershipsRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewMembershipsRepository creates a new memberships repository.
func NewMembershipsRepository(db *sql.DB, dialect Dialect) *MembershipsRepository {
	return &MembershipsRepository{db: db, dialect: dialect}
}

const membershipColumns = `
	m.id, m.aggregation_id, m.tenant_id, m.invited_by_tenant_id, m.status, m.role, m.permissions,
	m.invited_at, m.responded_at, m.joined_at, m.left_at, m.expires_at,
	m.invitation_message, m.response_message, m.leave_reason, m.created_at, m.updated_at`

// CreateTx inserts a membership within a transaction. A second live row for
// the same aggregation and tenant is rejected with ErrDuplicateMembership.
func (r *MembershipsRepository) CreateTx(ctx context.Context, q Querier, m *domain.Membership) error {
	permissions, err := jsonParam(m.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	query := `
		INSERT INTO aggregation_members (
			id, aggregation_id, tenant_id, invited_by_tenant_id, status, role, permissions,
			invited_at, responded_at, joined_at, left_at, expires_at,
			invitation_message, response_message, leave_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = q.ExecContext(ctx, query,
		m.ID,
		m.AggregationID,
		m.TenantID,
		m.InvitedByTenantID,
		m.Status,
		m.Role,
		permissions,
		r.dialect.NullTime(m.InvitedAt),
		r.dialect.NullTime(m.RespondedAt),
		r.dialect.NullTime(m.JoinedAt),
		r.dialect.NullTime(m.LeftAt),
		r.dialect.NullTime(m.ExpiresAt),
		m.InvitationMessage,
		m.ResponseMessage,
		m.LeaveReason,
		r.dialect.Time(m.CreatedAt),
		r.dialect.Time(m.UpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrDuplicateMembership
		}
		return err
	}
	return nil
}

// GetByID retrieves a membership by ID.
func (r *MembershipsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

// GetByIDTx retrieves a membership by ID within a transaction.
func (r *MembershipsRepository) GetByIDTx(ctx context.Context, q Querier, id uuid.UUID) (*domain.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM aggregation_members m WHERE m.id = $1`

	membership, err := scanMembership(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return membership, nil
}

// GetLive retrieves the pending or accepted membership of tenantID in aggregationID.
func (r *MembershipsRepository) GetLive(ctx context.Context, aggregationID, tenantID uuid.UUID) (*domain.Membership, error) {
	return r.GetLiveTx(ctx, r.db, aggregationID, tenantID)
}

// GetLiveTx is GetLive within a transaction.
func (r *MembershipsRepository) GetLiveTx(ctx context.Context, q Querier, aggregationID, tenantID uuid.UUID) (*domain.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM aggregation_members m
		WHERE m.aggregation_id = $1 AND m.tenant_id = $2 AND m.status IN ('pending', 'accepted')
	`

	membership, err := scanMembership(q.QueryRowContext(ctx, query, aggregationID, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return membership, nil
}

// TransitionTx applies change to the membership only if its status is still
// "from". It reports whether the row changed; false means another writer
// moved the row first.
func (r *MembershipsRepository) TransitionTx(ctx context.Context, q Querier, id uuid.UUID, from domain.MembershipStatus, change domain.MembershipChange, now time.Time) (bool, error) {
	query := `
		UPDATE aggregation_members
		SET status = $1,
		    responded_at = COALESCE($2, responded_at),
		    joined_at = COALESCE($3, joined_at),
		    left_at = COALESCE($4, left_at),
		    response_message = COALESCE($5, response_message),
		    leave_reason = COALESCE($6, leave_reason),
		    updated_at = $7
		WHERE id = $8 AND status = $9
	`
	result, err := q.ExecContext(ctx, query,
		change.Status,
		r.dialect.NullTime(change.RespondedAt),
		r.dialect.NullTime(change.JoinedAt),
		r.dialect.NullTime(change.LeftAt),
		change.ResponseMessage,
		change.LeaveReason,
		r.dialect.Time(now),
		id,
		from,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// UpdatePermissionsTx replaces the override map of an accepted membership.
func (r *MembershipsRepository) UpdatePermissionsTx(ctx context.Context, q Querier, id uuid.UUID, permissions domain.PermissionOverrides, now time.Time) (bool, error) {
	encoded, err := jsonParam(permissions)
	if err != nil {
		return false, fmt.Errorf("encode permissions: %w", err)
	}

	query := `
		UPDATE aggregation_members
		SET permissions = $1, updated_at = $2
		WHERE id = $3 AND status = 'accepted'
	`
	return r.execAffected(ctx, q, query, encoded, r.dialect.Time(now), id)
}

// UpdateRoleTx changes the role of an accepted membership.
func (r *MembershipsRepository) UpdateRoleTx(ctx context.Context, q Querier, id uuid.UUID, role domain.MembershipRole, now time.Time) (bool, error) {
	query := `
		UPDATE aggregation_members
		SET role = $1, updated_at = $2
		WHERE id = $3 AND status = 'accepted'
	`
	return r.execAffected(ctx, q, query, role, r.dialect.Time(now), id)
}

func (r *MembershipsRepository) execAffected(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
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

// ExpirePending marks every pending invitation whose expiry lies before now
// as expired and returns how many rows changed. Re-running it is harmless.
func (r *MembershipsRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE aggregation_members
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, r.dialect.Time(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountAcceptedTx counts the accepted memberships of an aggregation.
func (r *MembershipsRepository) CountAcceptedTx(ctx context.Context, q Querier, aggregationID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM aggregation_members WHERE aggregation_id = $1 AND status = 'accepted'`
	if err := q.QueryRowContext(ctx, query, aggregationID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListByAggregation retrieves an aggregation's memberships, optionally
// restricted to the given statuses.
func (r *MembershipsRepository) ListByAggregation(ctx context.Context, aggregationID uuid.UUID, statuses ...domain.MembershipStatus) ([]*domain.Membership, error) {
	args := []any{aggregationID}
	query := `SELECT ` + membershipColumns + ` FROM aggregation_members m WHERE m.aggregation_id = $1`
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			args = append(args, s)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND m.status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY m.created_at ASC, m.id ASC`

	return r.list(ctx, query, args...)
}

// ListPendingForTenant retrieves the invitations tenantID can still answer.
func (r *MembershipsRepository) ListPendingForTenant(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]*domain.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM aggregation_members m
		INNER JOIN aggregations a ON a.id = m.aggregation_id
		WHERE m.tenant_id = $1
			AND m.status = 'pending'
			AND (m.expires_at IS NULL OR m.expires_at >= $2)
			AND a.status = 'active'
		ORDER BY m.created_at ASC, m.id ASC
	`
	return r.list(ctx, query, tenantID, r.dialect.Time(now))
}

func (r *MembershipsRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*domain.Membership
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, membership)
	}
	return memberships, rows.Err()
}

// AccessibleTenantIDs returns tenantID's direct co-members: every tenant with
// an accepted membership in an active aggregation where tenantID is also
// accepted. tenantID itself appears only if it is accepted somewhere; it is
// the caller's job to add it. The join is one level deep on purpose, so
// visibility never propagates through a co-member's other aggregations.
func (r *MembershipsRepository) AccessibleTenantIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT peer.tenant_id
		FROM aggregation_members self
		INNER JOIN aggregations a ON a.id = self.aggregation_id AND a.status = 'active'
		INNER JOIN aggregation_members peer ON peer.aggregation_id = self.aggregation_id
		WHERE self.tenant_id = $1
			AND self.status = 'accepted'
			AND peer.status = 'accepted'
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanMembership(row rowScanner) (*domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(
		&m.ID,
		&m.AggregationID,
		&m.TenantID,
		&m.InvitedByTenantID,
		&m.Status,
		&m.Role,
		scanJSON(&m.Permissions),
		scanNullTime(&m.InvitedAt),
		scanNullTime(&m.RespondedAt),
		scanNullTime(&m.JoinedAt),
		scanNullTime(&m.LeftAt),
		scanNullTime(&m.ExpiresAt),
		&m.InvitationMessage,
		&m.ResponseMessage,
		&m.LeaveReason,
		scanTime(&m.CreatedAt),
		scanTime(&m.UpdatedAt),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
