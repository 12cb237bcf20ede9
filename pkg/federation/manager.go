package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/repository"
	"github.com/google/uuid"
)

// CreateOptions are the optional attributes of a new aggregation. Nil
// sharing flags take the default policy.
type CreateOptions struct {
	Description      string
	ShareDocuments   *bool
	ShareAnalytics   *bool
	ShareTemplates   *bool
	MembersCanInvite *bool
	MaxMembers       *int
	Settings         map[string]any
}

func (o CreateOptions) sharing(membersCanInvite bool) domain.SharingPolicy {
	policy := domain.DefaultSharingPolicy(membersCanInvite)
	if o.ShareDocuments != nil {
		policy.ShareDocuments = *o.ShareDocuments
	}
	if o.ShareAnalytics != nil {
		policy.ShareAnalytics = *o.ShareAnalytics
	}
	if o.ShareTemplates != nil {
		policy.ShareTemplates = *o.ShareTemplates
	}
	if o.MembersCanInvite != nil {
		policy.MembersCanInvite = *o.MembersCanInvite
	}
	return policy
}

// CreateAggregation creates an aggregation together with the creator's
// accepted admin membership. Either both rows are written or neither is.
func (s *Service) CreateAggregation(ctx context.Context, creatorTenantID uuid.UUID, name string, opts CreateOptions) (*domain.Aggregation, *domain.Membership, error) {
	if creatorTenantID == uuid.Nil {
		return nil, nil, s.fail("create aggregation", domain.ErrInvalidTenantID)
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, nil, s.fail("create aggregation", err, "creator_tenant_id", creatorTenantID)
	}
	description, err := optionalText(opts.Description, MaxDescriptionLength, domain.ErrDescriptionTooLong)
	if err != nil {
		return nil, nil, s.fail("create aggregation", err, "creator_tenant_id", creatorTenantID)
	}

	maxMembers := opts.MaxMembers
	if maxMembers == nil && s.config.DefaultMaxMembers > 0 {
		limit := s.config.DefaultMaxMembers
		maxMembers = &limit
	}
	if maxMembers != nil && *maxMembers < 1 {
		return nil, nil, s.fail("create aggregation", domain.ErrInvalidMaxMembers, "creator_tenant_id", creatorTenantID)
	}

	now := s.now()
	agg := &domain.Aggregation{
		Name:              name,
		Description:       description,
		CreatedByTenantID: creatorTenantID,
		Status:            domain.AggregationStatusActive,
		Sharing:           opts.sharing(*s.config.MembersCanInvite),
		MaxMembers:        maxMembers,
		Settings:          opts.Settings,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	membership := &domain.Membership{
		TenantID:    creatorTenantID,
		Status:      domain.MembershipStatusAccepted,
		Role:        domain.RoleAdmin,
		RespondedAt: &now,
		JoinedAt:    &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	base := Slugify(name)
	for attempt := 1; ; attempt++ {
		agg.ID = uuid.New()
		membership.ID = uuid.New()
		membership.AggregationID = agg.ID

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			slug, err := s.allocateSlugTx(ctx, tx, base)
			if err != nil {
				return err
			}
			agg.Slug = slug

			if err := s.aggregations.CreateTx(ctx, tx, agg); err != nil {
				return fmt.Errorf("failed to create aggregation: %w", err)
			}
			if err := s.memberships.CreateTx(ctx, tx, membership); err != nil {
				return fmt.Errorf("failed to create founding membership: %w", err)
			}
			return nil
		})
		// A concurrent create can take the probed slug before our insert.
		if err != nil && repository.IsUniqueViolation(err) && attempt < maxCreateAttempts {
			continue
		}
		break
	}
	if err != nil {
		return nil, nil, s.fail("create aggregation", err, "creator_tenant_id", creatorTenantID)
	}

	s.logger.Info("aggregation created",
		"aggregation_id", agg.ID,
		"slug", agg.Slug,
		"creator_tenant_id", creatorTenantID,
	)
	return agg, membership, nil
}

func (s *Service) allocateSlugTx(ctx context.Context, q repository.Querier, base string) (string, error) {
	for n := 0; n < maxSlugProbing; n++ {
		candidate := slugCandidate(base, n)
		taken, err := s.aggregations.SlugExistsTx(ctx, q, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to probe slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", domain.ErrSlugUnavailable
}

// ArchiveAggregation archives an active or suspended aggregation. Only the
// creator or an admin member may archive. Memberships are left as they are.
func (s *Service) ArchiveAggregation(ctx context.Context, aggregationID, actorTenantID uuid.UUID) (*domain.Aggregation, error) {
	agg, err := s.changeAggregationStatus(ctx, aggregationID, actorTenantID,
		[]domain.AggregationStatus{domain.AggregationStatusActive, domain.AggregationStatusSuspended},
		domain.AggregationStatusArchived,
	)
	if err != nil {
		return nil, s.fail("archive aggregation", err, "aggregation_id", aggregationID, "actor_tenant_id", actorTenantID)
	}
	s.logger.Info("aggregation archived", "aggregation_id", aggregationID, "actor_tenant_id", actorTenantID)
	return agg, nil
}

// SuspendAggregation pauses an active aggregation. While suspended it takes
// no invitations or acceptances and grants no cross-tenant visibility.
func (s *Service) SuspendAggregation(ctx context.Context, aggregationID, actorTenantID uuid.UUID) (*domain.Aggregation, error) {
	agg, err := s.changeAggregationStatus(ctx, aggregationID, actorTenantID,
		[]domain.AggregationStatus{domain.AggregationStatusActive},
		domain.AggregationStatusSuspended,
	)
	if err != nil {
		return nil, s.fail("suspend aggregation", err, "aggregation_id", aggregationID, "actor_tenant_id", actorTenantID)
	}
	s.logger.Info("aggregation suspended", "aggregation_id", aggregationID, "actor_tenant_id", actorTenantID)
	return agg, nil
}

func (s *Service) changeAggregationStatus(ctx context.Context, aggregationID, actorTenantID uuid.UUID, from []domain.AggregationStatus, to domain.AggregationStatus) (*domain.Aggregation, error) {
	var agg *domain.Aggregation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		agg, err = s.aggregations.LockTx(ctx, tx, aggregationID)
		if err != nil {
			return err
		}

		admin, err := s.isAdminTx(ctx, tx, agg, actorTenantID)
		if err != nil {
			return fmt.Errorf("failed to check admin: %w", err)
		}
		if !admin {
			return domain.ErrNotAggregationAdmin
		}

		now := s.now()
		changed, err := s.aggregations.UpdateStatusTx(ctx, tx, aggregationID, from, to, now)
		if err != nil {
			return fmt.Errorf("failed to update aggregation status: %w", err)
		}
		if !changed {
			if agg.IsArchived() {
				return domain.ErrAggregationArchived
			}
			return domain.ErrAggregationNotActive
		}

		agg.Status = to
		agg.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// GetAggregation retrieves an aggregation by ID.
func (s *Service) GetAggregation(ctx context.Context, id uuid.UUID) (*domain.Aggregation, error) {
	return s.aggregations.GetByID(ctx, id)
}

// GetAggregationBySlug retrieves an aggregation by slug.
func (s *Service) GetAggregationBySlug(ctx context.Context, slug string) (*domain.Aggregation, error) {
	return s.aggregations.GetBySlug(ctx, slug)
}

// ListAggregations returns the aggregations tenantID has joined, in any status.
func (s *Service) ListAggregations(ctx context.Context, tenantID uuid.UUID) ([]*domain.Aggregation, error) {
	return s.aggregations.ListForTenant(ctx, tenantID, false)
}

// AcceptedCount returns the number of accepted memberships of an aggregation.
func (s *Service) AcceptedCount(ctx context.Context, aggregationID uuid.UUID) (int, error) {
	return s.memberships.CountAcceptedTx(ctx, s.db, aggregationID)
}

// CanAcceptMoreMembers reports whether the aggregation is active and below
// its member limit right now. The answer is advisory; Accept re-checks it
// under lock.
func (s *Service) CanAcceptMoreMembers(ctx context.Context, aggregationID uuid.UUID) (bool, error) {
	agg, err := s.aggregations.GetByID(ctx, aggregationID)
	if err != nil {
		return false, err
	}
	count, err := s.memberships.CountAcceptedTx(ctx, s.db, aggregationID)
	if err != nil {
		return false, err
	}
	return agg.CanAcceptMoreMembers(count), nil
}

// ListMembers returns an aggregation's memberships, optionally filtered by
// status. Any status value outside the known set is a validation error.
func (s *Service) ListMembers(ctx context.Context, aggregationID uuid.UUID, statuses ...domain.MembershipStatus) ([]*domain.Membership, error) {
	for _, status := range statuses {
		if !status.Valid() {
			return nil, domain.ErrInvalidStatus
		}
	}
	if _, err := s.aggregations.GetByID(ctx, aggregationID); err != nil {
		if errors.Is(err, domain.ErrAggregationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get aggregation: %w", err)
	}
	return s.memberships.ListByAggregation(ctx, aggregationID, statuses...)
}
