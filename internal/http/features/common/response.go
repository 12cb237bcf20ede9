package common

import (
	"time"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// SharingResponse is the JSON form of an aggregation's sharing policy.
type SharingResponse struct {
	ShareDocuments   bool `json:"share_documents"`
	ShareAnalytics   bool `json:"share_analytics"`
	ShareTemplates   bool `json:"share_templates"`
	MembersCanInvite bool `json:"members_can_invite"`
}

// AggregationResponse is the JSON form of an aggregation.
type AggregationResponse struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Slug              string          `json:"slug"`
	Description       *string         `json:"description,omitempty"`
	CreatedByTenantID uuid.UUID       `json:"created_by_tenant_id"`
	Status            string          `json:"status"`
	Sharing           SharingResponse `json:"sharing"`
	MaxMembers        *int            `json:"max_members,omitempty"`
	Settings          map[string]any  `json:"settings,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewAggregationResponse converts an aggregation for output.
func NewAggregationResponse(agg *domain.Aggregation) AggregationResponse {
	return AggregationResponse{
		ID:                agg.ID,
		Name:              agg.Name,
		Slug:              agg.Slug,
		Description:       agg.Description,
		CreatedByTenantID: agg.CreatedByTenantID,
		Status:            string(agg.Status),
		Sharing: SharingResponse{
			ShareDocuments:   agg.Sharing.ShareDocuments,
			ShareAnalytics:   agg.Sharing.ShareAnalytics,
			ShareTemplates:   agg.Sharing.ShareTemplates,
			MembersCanInvite: agg.Sharing.MembersCanInvite,
		},
		MaxMembers: agg.MaxMembers,
		Settings:   agg.Settings,
		CreatedAt:  agg.CreatedAt,
		UpdatedAt:  agg.UpdatedAt,
	}
}

// MembershipResponse is the JSON form of a membership.
type MembershipResponse struct {
	ID                uuid.UUID                  `json:"id"`
	AggregationID     uuid.UUID                  `json:"aggregation_id"`
	TenantID          uuid.UUID                  `json:"tenant_id"`
	InvitedByTenantID *uuid.UUID                 `json:"invited_by_tenant_id,omitempty"`
	Status            string                     `json:"status"`
	Role              string                     `json:"role"`
	Permissions       domain.PermissionOverrides `json:"permissions,omitempty"`
	InvitedAt         *time.Time                 `json:"invited_at,omitempty"`
	RespondedAt       *time.Time                 `json:"responded_at,omitempty"`
	JoinedAt          *time.Time                 `json:"joined_at,omitempty"`
	LeftAt            *time.Time                 `json:"left_at,omitempty"`
	ExpiresAt         *time.Time                 `json:"expires_at,omitempty"`
	InvitationMessage *string                    `json:"invitation_message,omitempty"`
	ResponseMessage   *string                    `json:"response_message,omitempty"`
	LeaveReason       *string                    `json:"leave_reason,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// NewMembershipResponse converts a membership for output.
func NewMembershipResponse(m *domain.Membership) MembershipResponse {
	return MembershipResponse{
		ID:                m.ID,
		AggregationID:     m.AggregationID,
		TenantID:          m.TenantID,
		InvitedByTenantID: m.InvitedByTenantID,
		Status:            string(m.Status),
		Role:              string(m.Role),
		Permissions:       m.Permissions,
		InvitedAt:         m.InvitedAt,
		RespondedAt:       m.RespondedAt,
		JoinedAt:          m.JoinedAt,
		LeftAt:            m.LeftAt,
		ExpiresAt:         m.ExpiresAt,
		InvitationMessage: m.InvitationMessage,
		ResponseMessage:   m.ResponseMessage,
		LeaveReason:       m.LeaveReason,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// NewMembershipList converts a slice of memberships for output.
func NewMembershipList(memberships []*domain.Membership) []MembershipResponse {
	out := make([]MembershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, NewMembershipResponse(m))
	}
	return out
}
