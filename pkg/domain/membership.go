package domain

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus represents the state of a tenant's participation in an aggregation.
type MembershipStatus string

const (
	MembershipStatusPending  MembershipStatus = "pending"
	MembershipStatusAccepted MembershipStatus = "accepted"
	MembershipStatusRejected MembershipStatus = "rejected"
	MembershipStatusLeft     MembershipStatus = "left"
	MembershipStatusRemoved  MembershipStatus = "removed"
	MembershipStatusExpired  MembershipStatus = "expired"
)

// LiveMembershipStatuses are the statuses covered by the one-row-per-tenant rule.
var LiveMembershipStatuses = []MembershipStatus{MembershipStatusPending, MembershipStatusAccepted}

// Valid reports whether s is a known membership status.
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipStatusPending, MembershipStatusAccepted, MembershipStatusRejected,
		MembershipStatusLeft, MembershipStatusRemoved, MembershipStatusExpired:
		return true
	}
	return false
}

// IsLive returns true for pending and accepted.
func (s MembershipStatus) IsLive() bool {
	return s == MembershipStatusPending || s == MembershipStatusAccepted
}

// IsTerminal returns true for statuses no transition leaves.
func (s MembershipStatus) IsTerminal() bool {
	return s.Valid() && !s.IsLive()
}

// MembershipRole is the role a tenant holds inside an aggregation.
type MembershipRole string

const (
	RoleAdmin    MembershipRole = "admin"
	RoleMember   MembershipRole = "member"
	RoleReadonly MembershipRole = "readonly"
)

// Valid reports whether r is a known role.
func (r MembershipRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleReadonly:
		return true
	}
	return false
}

// Membership records one tenant's participation attempt in one aggregation.
type Membership struct {
	ID                uuid.UUID
	AggregationID     uuid.UUID
	TenantID          uuid.UUID
	InvitedByTenantID *uuid.UUID
	Status            MembershipStatus
	Role              MembershipRole
	Permissions       PermissionOverrides
	InvitedAt         *time.Time
	RespondedAt       *time.Time
	JoinedAt          *time.Time
	LeftAt            *time.Time
	ExpiresAt         *time.Time
	InvitationMessage *string
	ResponseMessage   *string
	LeaveReason       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive returns true if the membership is accepted.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipStatusAccepted
}

// IsPending returns true if the invitation awaits a response.
func (m *Membership) IsPending() bool {
	return m.Status == MembershipStatusPending
}

// IsAdmin returns true if the membership carries the admin role.
func (m *Membership) IsAdmin() bool {
	return m.Role == RoleAdmin
}

// IsExpired returns true if the membership was expired, or is still pending
// with an expiry strictly before now.
func (m *Membership) IsExpired(now time.Time) bool {
	if m.Status == MembershipStatusExpired {
		return true
	}
	if m.Status == MembershipStatusPending && m.ExpiresAt != nil {
		return now.After(*m.ExpiresAt)
	}
	return false
}

// MembershipChange is the set of columns a state transition writes. Nil
// fields are left untouched.
type MembershipChange struct {
	Status          MembershipStatus
	RespondedAt     *time.Time
	JoinedAt        *time.Time
	LeftAt          *time.Time
	ResponseMessage *string
	LeaveReason     *string
}
