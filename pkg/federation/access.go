package federation

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// AccessibleTenantIDs returns tenantID together with every tenant accepted
// in an active aggregation where tenantID is also accepted. Visibility does
// not chain: a co-member's other aggregations add nothing. The result is
// computed from current rows on every call and sorted.
func (s *Service) AccessibleTenantIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	peers, err := s.memberships.AccessibleTenantIDs(ctx, tenantID)
	if err != nil {
		return nil, s.fail("resolve accessible tenants", err, "tenant_id", tenantID)
	}

	seen := map[uuid.UUID]struct{}{tenantID: {}}
	ids := []uuid.UUID{tenantID}
	for _, id := range peers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

// CanAccessTenant reports whether viewer may read owner's shared data.
func (s *Service) CanAccessTenant(ctx context.Context, viewer, owner uuid.UUID) (bool, error) {
	if viewer == owner {
		return true, nil
	}
	ids, err := s.AccessibleTenantIDs(ctx, viewer)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == owner {
			return true, nil
		}
	}
	return false, nil
}

// TenantRef is a tenant as shown in the grouped access view.
type TenantRef struct {
	ID   uuid.UUID
	Name string
	Role domain.MembershipRole
}

// AggregationAccess lists the accepted members of one aggregation.
type AggregationAccess struct {
	Aggregation *domain.Aggregation
	Members     []TenantRef
}

// AccessibleTenants is the grouped access view of one tenant.
type AccessibleTenants struct {
	Own          TenantRef
	Aggregations []AggregationAccess
}

// AccessibleTenantsByAggregation groups tenantID's visibility by the active
// aggregations it belongs to. Names come from the tenant directory and fall
// back to a generic label for unknown tenants.
func (s *Service) AccessibleTenantsByAggregation(ctx context.Context, tenantID uuid.UUID) (*AccessibleTenants, error) {
	aggregations, err := s.aggregations.ListForTenant(ctx, tenantID, true)
	if err != nil {
		return nil, s.fail("group accessible tenants", fmt.Errorf("failed to list aggregations: %w", err), "tenant_id", tenantID)
	}

	groups := make([]AggregationAccess, 0, len(aggregations))
	ids := []uuid.UUID{tenantID}
	for _, agg := range aggregations {
		members, err := s.memberships.ListByAggregation(ctx, agg.ID, domain.MembershipStatusAccepted)
		if err != nil {
			return nil, s.fail("group accessible tenants", fmt.Errorf("failed to list members: %w", err), "tenant_id", tenantID)
		}
		group := AggregationAccess{Aggregation: agg, Members: make([]TenantRef, 0, len(members))}
		for _, m := range members {
			group.Members = append(group.Members, TenantRef{ID: m.TenantID, Role: m.Role})
			ids = append(ids, m.TenantID)
		}
		groups = append(groups, group)
	}

	names, err := s.displayNames(ctx, ids)
	if err != nil {
		return nil, s.fail("group accessible tenants", err, "tenant_id", tenantID)
	}
	for i := range groups {
		for j := range groups[i].Members {
			groups[i].Members[j].Name = names[groups[i].Members[j].ID]
		}
	}

	return &AccessibleTenants{
		Own:          TenantRef{ID: tenantID, Name: names[tenantID]},
		Aggregations: groups,
	}, nil
}

func (s *Service) displayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	var tenants map[uuid.UUID]*domain.Tenant
	if s.tenants != nil {
		var err error
		tenants, err = s.tenants.GetByIDs(ctx, unique)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tenant names: %w", err)
		}
	}

	names := make(map[uuid.UUID]string, len(unique))
	for _, id := range unique {
		if tenant, ok := tenants[id]; ok {
			names[id] = tenant.DisplayName()
		} else {
			names[id] = domain.FallbackTenantName(id)
		}
	}
	return names, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}
