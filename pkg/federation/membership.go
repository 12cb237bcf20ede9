package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// Invite creates a pending membership for tenantID, answerable until the
// invitation expiry elapses. The inviter must be an accepted member who is
// either an admin or allowed to invite by the permission resolver.
func (s *Service) Invite(ctx context.Context, aggregationID, tenantID, actorTenantID uuid.UUID, message string) (*domain.Membership, error) {
	attrs := []any{"aggregation_id", aggregationID, "tenant_id", tenantID, "actor_tenant_id", actorTenantID}

	if tenantID == uuid.Nil || actorTenantID == uuid.Nil {
		return nil, s.fail("invite", domain.ErrInvalidTenantID, attrs...)
	}
	if tenantID == actorTenantID {
		return nil, s.fail("invite", domain.ErrSelfInvitation, attrs...)
	}
	msg, err := normalizeMessage(message)
	if err != nil {
		return nil, s.fail("invite", err, attrs...)
	}

	var (
		agg        *domain.Aggregation
		membership *domain.Membership
	)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		agg, err = s.aggregations.GetByIDTx(ctx, tx, aggregationID)
		if err != nil {
			return err
		}
		if err := writableForInvites(agg); err != nil {
			return err
		}

		inviter, err := s.memberships.GetLiveTx(ctx, tx, aggregationID, actorTenantID)
		if errors.Is(err, domain.ErrMembershipNotFound) {
			return domain.ErrInviteNotAllowed
		}
		if err != nil {
			return fmt.Errorf("failed to get inviter membership: %w", err)
		}
		if !canInvite(agg, inviter) {
			return domain.ErrInviteNotAllowed
		}

		_, err = s.memberships.GetLiveTx(ctx, tx, aggregationID, tenantID)
		if err == nil {
			return domain.ErrDuplicateMembership
		}
		if !errors.Is(err, domain.ErrMembershipNotFound) {
			return fmt.Errorf("failed to check existing membership: %w", err)
		}

		now := s.now()
		expiresAt := now.Add(s.config.InvitationExpiry)
		invitedBy := actorTenantID
		membership = &domain.Membership{
			ID:                uuid.New(),
			AggregationID:     aggregationID,
			TenantID:          tenantID,
			InvitedByTenantID: &invitedBy,
			Status:            domain.MembershipStatusPending,
			Role:              domain.RoleMember,
			InvitedAt:         &now,
			ExpiresAt:         &expiresAt,
			InvitationMessage: msg,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		// The live-row unique index rejects a racing duplicate invite.
		if err := s.memberships.CreateTx(ctx, tx, membership); err != nil {
			if errors.Is(err, domain.ErrDuplicateMembership) {
				return err
			}
			return fmt.Errorf("failed to create membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("invite", err, attrs...)
	}

	s.logger.Info("invitation sent", append(attrs, "membership_id", membership.ID, "expires_at", membership.ExpiresAt)...)
	s.notify(ctx, EventInvitationSent, agg, membership, actorTenantID)
	return membership, nil
}

func writableForInvites(agg *domain.Aggregation) error {
	if agg.IsArchived() {
		return domain.ErrAggregationArchived
	}
	if !agg.IsActive() {
		return domain.ErrAggregationNotActive
	}
	return nil
}

func canInvite(agg *domain.Aggregation, inviter *domain.Membership) bool {
	if !inviter.IsActive() {
		return false
	}
	if agg.IsCreator(inviter.TenantID) || inviter.IsAdmin() {
		return true
	}
	return domain.ResolvePermission(agg.Sharing, inviter.Permissions, domain.PermissionInviteMembers)
}

// Accept moves a pending invitation to accepted. The capacity check and the
// write happen in one transaction holding the aggregation lock, so two
// acceptances racing for the last slot yield one success and one
// ErrAggregationFull. A lapsed invitation is marked expired and
// ErrInvitationExpired is returned.
func (s *Service) Accept(ctx context.Context, membershipID, actorTenantID uuid.UUID, message string) (*domain.Membership, error) {
	attrs := []any{"membership_id", membershipID, "actor_tenant_id", actorTenantID}

	msg, err := normalizeMessage(message)
	if err != nil {
		return nil, s.fail("accept invitation", err, attrs...)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("accept invitation", fmt.Errorf("failed to begin transaction: %w", err), attrs...)
	}
	defer tx.Rollback()

	membership, err := s.memberships.GetByIDTx(ctx, tx, membershipID)
	if err != nil {
		return nil, s.fail("accept invitation", err, attrs...)
	}
	if membership.TenantID != actorTenantID {
		return nil, s.fail("accept invitation", domain.ErrNotMembershipOwner, attrs...)
	}
	if !membership.IsPending() {
		return nil, s.fail("accept invitation", domain.ErrMembershipNotPending, attrs...)
	}

	now := s.now()
	if membership.IsExpired(now) {
		expired, err := s.memberships.TransitionTx(ctx, tx, membershipID, domain.MembershipStatusPending,
			domain.MembershipChange{Status: domain.MembershipStatusExpired}, now)
		if err != nil {
			return nil, s.fail("accept invitation", fmt.Errorf("failed to expire invitation: %w", err), attrs...)
		}
		if !expired {
			return nil, s.fail("accept invitation", domain.ErrMembershipNotPending, attrs...)
		}
		if err := tx.Commit(); err != nil {
			return nil, s.fail("accept invitation", fmt.Errorf("failed to commit transaction: %w", err), attrs...)
		}
		s.logger.Info("invitation expired on accept", attrs...)
		return nil, s.fail("accept invitation", domain.ErrInvitationExpired, attrs...)
	}

	agg, err := s.aggregations.LockTx(ctx, tx, membership.AggregationID)
	if err != nil {
		return nil, s.fail("accept invitation", fmt.Errorf("failed to lock aggregation: %w", err), attrs...)
	}
	count, err := s.memberships.CountAcceptedTx(ctx, tx, agg.ID)
	if err != nil {
		return nil, s.fail("accept invitation", fmt.Errorf("failed to count members: %w", err), attrs...)
	}
	if !agg.CanAcceptMoreMembers(count) {
		if !agg.IsActive() {
			return nil, s.fail("accept invitation", domain.ErrAggregationClosed, append(attrs, "aggregation_status", agg.Status)...)
		}
		return nil, s.fail("accept invitation", domain.ErrAggregationFull, append(attrs, "accepted", count)...)
	}

	change := domain.MembershipChange{
		Status:          domain.MembershipStatusAccepted,
		RespondedAt:     &now,
		JoinedAt:        &now,
		ResponseMessage: msg,
	}
	changed, err := s.memberships.TransitionTx(ctx, tx, membershipID, domain.MembershipStatusPending, change, now)
	if err != nil {
		return nil, s.fail("accept invitation", fmt.Errorf("failed to accept invitation: %w", err), attrs...)
	}
	if !changed {
		return nil, s.fail("accept invitation", domain.ErrMembershipNotPending, attrs...)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail("accept invitation", fmt.Errorf("failed to commit transaction: %w", err), attrs...)
	}

	applyChange(membership, change, now)
	s.logger.Info("invitation accepted", append(attrs, "aggregation_id", agg.ID)...)
	s.notify(ctx, EventInvitationAccepted, agg, membership, actorTenantID)
	return membership, nil
}

// Reject declines a pending invitation.
func (s *Service) Reject(ctx context.Context, membershipID, actorTenantID uuid.UUID, message string) (*domain.Membership, error) {
	msg, err := normalizeMessage(message)
	if err != nil {
		return nil, s.fail("reject invitation", err, "membership_id", membershipID)
	}

	return s.transition(ctx, transitionRequest{
		op:           "reject invitation",
		event:        EventInvitationRejected,
		membershipID: membershipID,
		actor:        actorTenantID,
		from:         domain.MembershipStatusPending,
		authorize:    requireOwner,
		change: func(now time.Time) domain.MembershipChange {
			return domain.MembershipChange{
				Status:          domain.MembershipStatusRejected,
				RespondedAt:     &now,
				ResponseMessage: msg,
			}
		},
	})
}

// Leave ends the actor's own accepted membership. The creator cannot leave;
// it archives the aggregation instead.
func (s *Service) Leave(ctx context.Context, membershipID, actorTenantID uuid.UUID, reason string) (*domain.Membership, error) {
	leaveReason, err := normalizeMessage(reason)
	if err != nil {
		return nil, s.fail("leave aggregation", err, "membership_id", membershipID)
	}

	return s.transition(ctx, transitionRequest{
		op:           "leave aggregation",
		event:        EventMemberLeft,
		membershipID: membershipID,
		actor:        actorTenantID,
		from:         domain.MembershipStatusAccepted,
		authorize:    requireOwner,
		guard: func(agg *domain.Aggregation, m *domain.Membership) error {
			if agg.IsCreator(m.TenantID) {
				return domain.ErrCreatorCannotLeave
			}
			return nil
		},
		change: func(now time.Time) domain.MembershipChange {
			return domain.MembershipChange{
				Status:      domain.MembershipStatusLeft,
				LeftAt:      &now,
				LeaveReason: leaveReason,
			}
		},
	})
}

// Remove expels an accepted member. Only the creator or an admin may remove,
// and the creator itself cannot be removed.
func (s *Service) Remove(ctx context.Context, membershipID, actorTenantID uuid.UUID, reason string) (*domain.Membership, error) {
	leaveReason, err := normalizeMessage(reason)
	if err != nil {
		return nil, s.fail("remove member", err, "membership_id", membershipID)
	}

	return s.transition(ctx, transitionRequest{
		op:           "remove member",
		event:        EventMemberRemoved,
		membershipID: membershipID,
		actor:        actorTenantID,
		from:         domain.MembershipStatusAccepted,
		authorize:    s.requireAdmin,
		guard: func(agg *domain.Aggregation, m *domain.Membership) error {
			if agg.IsCreator(m.TenantID) {
				return domain.ErrCreatorCannotLeave
			}
			return nil
		},
		change: func(now time.Time) domain.MembershipChange {
			return domain.MembershipChange{
				Status:      domain.MembershipStatusRemoved,
				LeftAt:      &now,
				LeaveReason: leaveReason,
			}
		},
	})
}

type authorizeFunc func(ctx context.Context, tx *sql.Tx, agg *domain.Aggregation, m *domain.Membership, actor uuid.UUID) error

type transitionRequest struct {
	op           string
	event        EventKind
	membershipID uuid.UUID
	actor        uuid.UUID
	from         domain.MembershipStatus
	authorize    authorizeFunc
	guard        func(agg *domain.Aggregation, m *domain.Membership) error
	change       func(now time.Time) domain.MembershipChange
}

// transition runs one membership state change: load, authorize, check the
// expected status, then write conditionally on that status.
func (s *Service) transition(ctx context.Context, req transitionRequest) (*domain.Membership, error) {
	attrs := []any{"membership_id", req.membershipID, "actor_tenant_id", req.actor}

	var (
		agg        *domain.Aggregation
		membership *domain.Membership
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		membership, err = s.memberships.GetByIDTx(ctx, tx, req.membershipID)
		if err != nil {
			return err
		}
		agg, err = s.aggregations.GetByIDTx(ctx, tx, membership.AggregationID)
		if err != nil {
			return fmt.Errorf("failed to get aggregation: %w", err)
		}

		if err := req.authorize(ctx, tx, agg, membership, req.actor); err != nil {
			return err
		}
		if membership.Status != req.from {
			return notInStatus(req.from)
		}
		if agg.IsArchived() {
			return domain.ErrAggregationArchived
		}
		if req.guard != nil {
			if err := req.guard(agg, membership); err != nil {
				return err
			}
		}

		now := s.now()
		change := req.change(now)
		changed, err := s.memberships.TransitionTx(ctx, tx, membership.ID, req.from, change, now)
		if err != nil {
			return fmt.Errorf("failed to update membership: %w", err)
		}
		if !changed {
			return notInStatus(req.from)
		}
		applyChange(membership, change, now)
		return nil
	})
	if err != nil {
		return nil, s.fail(req.op, err, attrs...)
	}

	s.logger.Info("membership transitioned", append(attrs, "event", req.event, "aggregation_id", agg.ID, "status", membership.Status)...)
	s.notify(ctx, req.event, agg, membership, req.actor)
	return membership, nil
}

func requireOwner(_ context.Context, _ *sql.Tx, _ *domain.Aggregation, m *domain.Membership, actor uuid.UUID) error {
	if m.TenantID != actor {
		return domain.ErrNotMembershipOwner
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, tx *sql.Tx, agg *domain.Aggregation, _ *domain.Membership, actor uuid.UUID) error {
	admin, err := s.isAdminTx(ctx, tx, agg, actor)
	if err != nil {
		return fmt.Errorf("failed to check admin: %w", err)
	}
	if !admin {
		return domain.ErrNotAggregationAdmin
	}
	return nil
}

func notInStatus(expected domain.MembershipStatus) error {
	if expected == domain.MembershipStatusPending {
		return domain.ErrMembershipNotPending
	}
	return domain.ErrMembershipNotActive
}

func applyChange(m *domain.Membership, change domain.MembershipChange, now time.Time) {
	m.Status = change.Status
	if change.RespondedAt != nil {
		m.RespondedAt = change.RespondedAt
	}
	if change.JoinedAt != nil {
		m.JoinedAt = change.JoinedAt
	}
	if change.LeftAt != nil {
		m.LeftAt = change.LeftAt
	}
	if change.ResponseMessage != nil {
		m.ResponseMessage = change.ResponseMessage
	}
	if change.LeaveReason != nil {
		m.LeaveReason = change.LeaveReason
	}
	m.UpdatedAt = now
}

// SetPermissions replaces the override map of an accepted member. Keys
// outside the known permission set are rejected. A nil or empty map clears
// every override.
func (s *Service) SetPermissions(ctx context.Context, membershipID, actorTenantID uuid.UUID, raw map[string]bool) (*domain.Membership, error) {
	attrs := []any{"membership_id", membershipID, "actor_tenant_id", actorTenantID}

	overrides, err := domain.ParsePermissionOverrides(raw)
	if err != nil {
		return nil, s.fail("set permissions", err, attrs...)
	}

	membership, err := s.updateAcceptedMember(ctx, membershipID, actorTenantID, func(tx *sql.Tx, agg *domain.Aggregation, m *domain.Membership) (bool, error) {
		now := s.now()
		changed, err := s.memberships.UpdatePermissionsTx(ctx, tx, m.ID, overrides, now)
		if changed {
			if len(overrides) == 0 {
				overrides = nil
			}
			m.Permissions = overrides
			m.UpdatedAt = now
		}
		return changed, err
	})
	if err != nil {
		return nil, s.fail("set permissions", err, attrs...)
	}
	s.logger.Info("membership permissions updated", append(attrs, "permissions", overrides.Keys())...)
	return membership, nil
}

// ChangeRole sets the role of an accepted member. The creator always stays admin.
func (s *Service) ChangeRole(ctx context.Context, membershipID, actorTenantID uuid.UUID, role domain.MembershipRole) (*domain.Membership, error) {
	attrs := []any{"membership_id", membershipID, "actor_tenant_id", actorTenantID, "role", role}

	if !role.Valid() {
		return nil, s.fail("change role", domain.ErrInvalidRole, attrs...)
	}

	membership, err := s.updateAcceptedMember(ctx, membershipID, actorTenantID, func(tx *sql.Tx, agg *domain.Aggregation, m *domain.Membership) (bool, error) {
		if agg.IsCreator(m.TenantID) && role != domain.RoleAdmin {
			return false, domain.ErrCreatorRoleLocked
		}
		now := s.now()
		changed, err := s.memberships.UpdateRoleTx(ctx, tx, m.ID, role, now)
		if changed {
			m.Role = role
			m.UpdatedAt = now
		}
		return changed, err
	})
	if err != nil {
		return nil, s.fail("change role", err, attrs...)
	}
	s.logger.Info("membership role changed", attrs...)
	return membership, nil
}

func (s *Service) updateAcceptedMember(ctx context.Context, membershipID, actorTenantID uuid.UUID, update func(tx *sql.Tx, agg *domain.Aggregation, m *domain.Membership) (bool, error)) (*domain.Membership, error) {
	var membership *domain.Membership
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		membership, err = s.memberships.GetByIDTx(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		agg, err := s.aggregations.GetByIDTx(ctx, tx, membership.AggregationID)
		if err != nil {
			return fmt.Errorf("failed to get aggregation: %w", err)
		}
		if err := s.requireAdmin(ctx, tx, agg, membership, actorTenantID); err != nil {
			return err
		}
		if agg.IsArchived() {
			return domain.ErrAggregationArchived
		}
		if !membership.IsActive() {
			return domain.ErrMembershipNotActive
		}

		changed, err := update(tx, agg, membership)
		if err != nil {
			if domain.IsBusinessError(err) {
				return err
			}
			return fmt.Errorf("failed to update membership: %w", err)
		}
		if !changed {
			return domain.ErrMembershipNotActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// GetMembership retrieves a membership by ID.
func (s *Service) GetMembership(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	return s.memberships.GetByID(ctx, id)
}

// PendingInvitations lists the invitations tenantID can still accept:
// pending, not lapsed, in an active aggregation.
func (s *Service) PendingInvitations(ctx context.Context, tenantID uuid.UUID) ([]*domain.Membership, error) {
	return s.memberships.ListPendingForTenant(ctx, tenantID, s.now())
}
