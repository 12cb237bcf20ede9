package memberships

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/florenceegi/egi-hub/internal/http/features/common"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler handles membership and invitation endpoints.
type Handler struct {
	logger     *slog.Logger
	federation *federation.Service
}

// NewHandler creates a new memberships handler.
func NewHandler(logger *slog.Logger, federation *federation.Service) *Handler {
	return &Handler{
		logger:     logger,
		federation: federation,
	}
}

// ResponseRequest carries the optional note of accept and reject.
type ResponseRequest struct {
	Message string `json:"message,omitempty"`
}

// DepartureRequest carries the optional reason of leave and remove.
type DepartureRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PermissionsRequest replaces a membership's permission overrides.
type PermissionsRequest struct {
	Permissions map[string]bool `json:"permissions"`
}

// RoleRequest changes a membership's role.
type RoleRequest struct {
	Role string `json:"role"`
}

// PermissionResponse is the resolved value of one permission.
type PermissionResponse struct {
	MembershipID uuid.UUID `json:"membership_id"`
	Key          string    `json:"key"`
	Granted      bool      `json:"granted"`
}

type transitionFunc func(ctx context.Context, membershipID, actorTenantID uuid.UUID, note string) (*domain.Membership, error)

// Pending returns the actor's open invitations.
// GET /v1/invitations
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}

	invitations, err := h.federation.PendingInvitations(r.Context(), actor)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list invitations")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{"invitations": common.NewMembershipList(invitations)})
}

// Accept accepts an invitation addressed to the actor.
// POST /v1/memberships/{id}/accept
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req ResponseRequest
	h.transition(w, r, &req, func() string { return req.Message }, h.federation.Accept, "failed to accept invitation")
}

// Reject declines an invitation addressed to the actor.
// POST /v1/memberships/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req ResponseRequest
	h.transition(w, r, &req, func() string { return req.Message }, h.federation.Reject, "failed to reject invitation")
}

// Leave ends the actor's own membership.
// POST /v1/memberships/{id}/leave
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	var req DepartureRequest
	h.transition(w, r, &req, func() string { return req.Reason }, h.federation.Leave, "failed to leave aggregation")
}

// Remove ends another tenant's membership. The actor must be an admin.
// POST /v1/memberships/{id}/remove
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	var req DepartureRequest
	h.transition(w, r, &req, func() string { return req.Reason }, h.federation.Remove, "failed to remove member")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, body any, note func() string, fn transitionFunc, failure string) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}
	if err := httputil.DecodeJSON(r, body); err != nil {
		common.WriteDecodeError(w, err)
		return
	}

	membership, err := fn(r.Context(), id, actor, note())
	if err != nil {
		common.WriteError(w, h.logger, err, failure)
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewMembershipResponse(membership))
}

// SetPermissions replaces a member's permission overrides.
// PUT /v1/memberships/{id}/permissions
func (h *Handler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}

	var req PermissionsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.WriteDecodeError(w, err)
		return
	}

	membership, err := h.federation.SetPermissions(r.Context(), id, actor, req.Permissions)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to set permissions")
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewMembershipResponse(membership))
}

// ChangeRole promotes or demotes a member.
// PUT /v1/memberships/{id}/role
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}

	var req RoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.WriteDecodeError(w, err)
		return
	}

	membership, err := h.federation.ChangeRole(r.Context(), id, actor, domain.MembershipRole(req.Role))
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to change role")
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewMembershipResponse(membership))
}

// HasPermission resolves one permission for a membership.
// GET /v1/memberships/{id}/permissions/{key}
func (h *Handler) HasPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	id, ok := common.PathID(w, r, "id")
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	granted, err := h.federation.HasPermissionFor(r.Context(), id, actor, key)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to resolve permission")
		return
	}

	httputil.JSON(w, http.StatusOK, PermissionResponse{
		MembershipID: id,
		Key:          key,
		Granted:      granted,
	})
}
