package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// GetAggregationFor retrieves an aggregation on behalf of actorTenantID,
// who must be its creator or hold a pending or accepted membership.
func (s *Service) GetAggregationFor(ctx context.Context, id, actorTenantID uuid.UUID) (*domain.Aggregation, error) {
	agg, err := s.aggregations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.visibleAggregation(ctx, agg, actorTenantID)
}

// GetAggregationBySlugFor is GetAggregationFor keyed by slug.
func (s *Service) GetAggregationBySlugFor(ctx context.Context, slug string, actorTenantID uuid.UUID) (*domain.Aggregation, error) {
	agg, err := s.aggregations.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.visibleAggregation(ctx, agg, actorTenantID)
}

func (s *Service) visibleAggregation(ctx context.Context, agg *domain.Aggregation, actorTenantID uuid.UUID) (*domain.Aggregation, error) {
	if err := s.requireMember(ctx, agg, actorTenantID, true); err != nil {
		return nil, s.fail("get aggregation", err, "aggregation_id", agg.ID, "actor_tenant_id", actorTenantID)
	}
	return agg, nil
}

// ListMembersFor is ListMembers on behalf of actorTenantID. Member history
// carries invitation messages and leave reasons, so only accepted members
// may read it.
func (s *Service) ListMembersFor(ctx context.Context, aggregationID, actorTenantID uuid.UUID, statuses ...domain.MembershipStatus) ([]*domain.Membership, error) {
	agg, err := s.aggregations.GetByID(ctx, aggregationID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, agg, actorTenantID, false); err != nil {
		return nil, s.fail("list members", err, "aggregation_id", aggregationID, "actor_tenant_id", actorTenantID)
	}
	return s.ListMembers(ctx, aggregationID, statuses...)
}

// HasPermissionFor is HasPermission on behalf of actorTenantID, who must be
// the membership's tenant or an admin of its aggregation.
func (s *Service) HasPermissionFor(ctx context.Context, membershipID, actorTenantID uuid.UUID, key string) (bool, error) {
	m, agg, err := s.loadMembership(ctx, membershipID)
	if err != nil {
		return false, err
	}
	if m.TenantID != actorTenantID {
		admin, err := s.isAdminTx(ctx, s.db, agg, actorTenantID)
		if err != nil {
			return false, s.fail("resolve permission", fmt.Errorf("failed to check admin: %w", err))
		}
		if !admin {
			return false, s.fail("resolve permission", domain.ErrNotMembershipOwner,
				"membership_id", membershipID, "actor_tenant_id", actorTenantID)
		}
	}
	return HasPermission(agg, m, key), nil
}

// requireMember checks that actorTenantID belongs to agg. The creator always
// does; pending invitees count only when includePending is set.
func (s *Service) requireMember(ctx context.Context, agg *domain.Aggregation, actorTenantID uuid.UUID, includePending bool) error {
	if agg.CreatedByTenantID == actorTenantID {
		return nil
	}
	m, err := s.memberships.GetLive(ctx, agg.ID, actorTenantID)
	if errors.Is(err, domain.ErrMembershipNotFound) {
		return domain.ErrNotAggregationMember
	}
	if err != nil {
		return fmt.Errorf("failed to get membership: %w", err)
	}
	if m.Status == domain.MembershipStatusPending && !includePending {
		return domain.ErrNotAggregationMember
	}
	return nil
}
