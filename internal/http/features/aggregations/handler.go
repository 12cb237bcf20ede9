package aggregations

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/florenceegi/egi-hub/internal/http/features/common"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler handles aggregation endpoints.
type Handler struct {
	logger     *slog.Logger
	federation *federation.Service
}

// NewHandler creates a new aggregations handler.
func NewHandler(logger *slog.Logger, federation *federation.Service) *Handler {
	return &Handler{
		logger:     logger,
		federation: federation,
	}
}

// CreateRequest represents an aggregation creation request.
type CreateRequest struct {
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	ShareDocuments   *bool          `json:"share_documents,omitempty"`
	ShareAnalytics   *bool          `json:"share_analytics,omitempty"`
	ShareTemplates   *bool          `json:"share_templates,omitempty"`
	MembersCanInvite *bool          `json:"members_can_invite,omitempty"`
	MaxMembers       *int           `json:"max_members,omitempty"`
	Settings         map[string]any `json:"settings,omitempty"`
}

// CreateResponse carries the new aggregation and the founding membership.
type CreateResponse struct {
	Aggregation common.AggregationResponse `json:"aggregation"`
	Membership  common.MembershipResponse  `json:"membership"`
}

// InviteRequest represents an invitation request.
type InviteRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Message  string    `json:"message,omitempty"`
}

// Create creates an aggregation founded by the actor.
// POST /v1/aggregations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.WriteDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.ErrorCode(w, http.StatusBadRequest, common.CodeValidation, domain.ErrNameRequired.Error())
		return
	}

	agg, membership, err := h.federation.CreateAggregation(r.Context(), actor, req.Name, federation.CreateOptions{
		Description:      req.Description,
		ShareDocuments:   req.ShareDocuments,
		ShareAnalytics:   req.ShareAnalytics,
		ShareTemplates:   req.ShareTemplates,
		MembersCanInvite: req.MembersCanInvite,
		MaxMembers:       req.MaxMembers,
		Settings:         req.Settings,
	})
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to create aggregation")
		return
	}

	httputil.JSON(w, http.StatusCreated, CreateResponse{
		Aggregation: common.NewAggregationResponse(agg),
		Membership:  common.NewMembershipResponse(membership),
	})
}

// List returns the aggregations the actor has joined.
// GET /v1/aggregations
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}

	aggs, err := h.federation.ListAggregations(r.Context(), actor)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list aggregations")
		return
	}

	out := make([]common.AggregationResponse, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, common.NewAggregationResponse(agg))
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"aggregations": out})
}

// Get returns one aggregation, addressed by ID or slug.
// GET /v1/aggregations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}

	ref := chi.URLParam(r, "id")
	var (
		agg *domain.Aggregation
		err error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		agg, err = h.federation.GetAggregationFor(r.Context(), id, actor)
	} else {
		agg, err = h.federation.GetAggregationBySlugFor(r.Context(), ref, actor)
	}
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to get aggregation")
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewAggregationResponse(agg))
}

// Archive archives an aggregation.
// POST /v1/aggregations/{id}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.federation.ArchiveAggregation, "failed to archive aggregation")
}

// Suspend suspends an aggregation.
// POST /v1/aggregations/{id}/suspend
func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.federation.SuspendAggregation, "failed to suspend aggregation")
}

type statusChange func(ctx context.Context, aggregationID, actorTenantID uuid.UUID) (*domain.Aggregation, error)

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, change statusChange, failure string) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}

	agg, err := change(r.Context(), id, actor)
	if err != nil {
		common.WriteError(w, h.logger, err, failure)
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewAggregationResponse(agg))
}

// Members lists an aggregation's memberships. Repeated or comma separated
// status parameters filter the list.
// GET /v1/aggregations/{id}/members?status=accepted
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}

	var statuses []domain.MembershipStatus
	for _, value := range r.URL.Query()["status"] {
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, domain.MembershipStatus(s))
			}
		}
	}

	members, err := h.federation.ListMembersFor(r.Context(), id, actor, statuses...)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list members")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{"members": common.NewMembershipList(members)})
}

// Invite invites a tenant into an aggregation on behalf of the actor.
// POST /v1/aggregations/{id}/invitations
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}

	var req InviteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.WriteDecodeError(w, err)
		return
	}
	if req.TenantID == uuid.Nil {
		httputil.ErrorCode(w, http.StatusBadRequest, common.CodeValidation, "tenant_id is required")
		return
	}

	membership, err := h.federation.Invite(r.Context(), id, req.TenantID, actor, req.Message)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to invite tenant")
		return
	}

	httputil.JSON(w, http.StatusCreated, common.NewMembershipResponse(membership))
}
