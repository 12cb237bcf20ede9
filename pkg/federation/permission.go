package federation

import (
	"context"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// HasPermission resolves key for one member of agg: the membership override
// wins when present, otherwise the aggregation's sharing flag applies.
// Keys outside the known permission set are always denied.
func HasPermission(agg *domain.Aggregation, m *domain.Membership, key string) bool {
	p, ok := domain.ParsePermission(key)
	if !ok {
		return false
	}
	return domain.ResolvePermission(agg.Sharing, m.Permissions, p)
}

// HasPermission loads a membership and its aggregation and resolves key.
func (s *Service) HasPermission(ctx context.Context, membershipID uuid.UUID, key string) (bool, error) {
	m, agg, err := s.loadMembership(ctx, membershipID)
	if err != nil {
		return false, err
	}
	return HasPermission(agg, m, key), nil
}

func (s *Service) loadMembership(ctx context.Context, membershipID uuid.UUID) (*domain.Membership, *domain.Aggregation, error) {
	m, err := s.memberships.GetByID(ctx, membershipID)
	if err != nil {
		return nil, nil, err
	}
	agg, err := s.aggregations.GetByID(ctx, m.AggregationID)
	if err != nil {
		return nil, nil, err
	}
	return m, agg, nil
}
