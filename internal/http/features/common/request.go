package common

import (
	"net/http"

	"github.com/florenceegi/egi-hub/internal/http/middleware"
	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Actor returns the acting tenant, writing a 401 when it is missing.
func Actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := middleware.GetActorTenantID(r.Context())
	if !ok {
		httputil.ErrorCode(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return uuid.Nil, false
	}
	return tenantID, true
}

// PathID parses a UUID route parameter, writing a 400 when it is malformed.
func PathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.ErrorCode(w, http.StatusBadRequest, CodeValidation, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
