package access

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/florenceegi/egi-hub/internal/http/features/common"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/google/uuid"
)

// Handler answers cross-tenant visibility queries for the actor.
type Handler struct {
	logger     *slog.Logger
	federation *federation.Service
}

// NewHandler creates a new access handler.
func NewHandler(logger *slog.Logger, federation *federation.Service) *Handler {
	return &Handler{
		logger:     logger,
		federation: federation,
	}
}

// TenantIDsResponse is the flat access view.
type TenantIDsResponse struct {
	TenantIDs []uuid.UUID `json:"tenant_ids"`
}

// TenantRefResponse is one tenant in the grouped view.
type TenantRefResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role,omitempty"`
}

// AggregationAccessResponse is one aggregation with its accepted members.
type AggregationAccessResponse struct {
	Aggregation common.AggregationResponse `json:"aggregation"`
	Members     []TenantRefResponse        `json:"members"`
}

// GroupedResponse is the grouped access view.
type GroupedResponse struct {
	Own          TenantRefResponse           `json:"own"`
	Aggregations []AggregationAccessResponse `json:"aggregations"`
}

// CanAccessResponse answers a single visibility check.
type CanAccessResponse struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	Accessible bool      `json:"accessible"`
}

// Accessible lists the tenants whose data the actor may see. With
// grouped=true the result is broken down by aggregation.
// GET /v1/access
func (h *Handler) Accessible(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}

	grouped := false
	if raw := r.URL.Query().Get("grouped"); raw != "" {
		var err error
		if grouped, err = strconv.ParseBool(raw); err != nil {
			httputil.ErrorCode(w, http.StatusBadRequest, common.CodeValidation, "grouped must be a boolean")
			return
		}
	}

	if grouped {
		view, err := h.federation.AccessibleTenantsByAggregation(r.Context(), actor)
		if err != nil {
			common.WriteError(w, h.logger, err, "failed to resolve access")
			return
		}
		httputil.JSON(w, http.StatusOK, newGroupedResponse(view))
		return
	}

	ids, err := h.federation.AccessibleTenantIDs(r.Context(), actor)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to resolve access")
		return
	}
	httputil.JSON(w, http.StatusOK, TenantIDsResponse{TenantIDs: ids})
}

// CanAccess reports whether the actor may see tenantID's data.
// GET /v1/access/{tenantID}
func (h *Handler) CanAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.Actor(w, r)
	if !ok {
		return
	}
	owner, ok := common.PathID(w, r, "tenantID")
	if !ok {
		return
	}

	accessible, err := h.federation.CanAccessTenant(r.Context(), actor, owner)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to resolve access")
		return
	}

	httputil.JSON(w, http.StatusOK, CanAccessResponse{TenantID: owner, Accessible: accessible})
}

func newGroupedResponse(view *federation.AccessibleTenants) GroupedResponse {
	out := GroupedResponse{
		Own:          newTenantRef(view.Own),
		Aggregations: make([]AggregationAccessResponse, 0, len(view.Aggregations)),
	}
	for _, group := range view.Aggregations {
		members := make([]TenantRefResponse, 0, len(group.Members))
		for _, m := range group.Members {
			members = append(members, newTenantRef(m))
		}
		out.Aggregations = append(out.Aggregations, AggregationAccessResponse{
			Aggregation: common.NewAggregationResponse(group.Aggregation),
			Members:     members,
		})
	}
	return out
}

func newTenantRef(ref federation.TenantRef) TenantRefResponse {
	return TenantRefResponse{ID: ref.ID, Name: ref.Name, Role: string(ref.Role)}
}
