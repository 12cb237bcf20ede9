package common

import (
	"log/slog"
	"net/http"

	"github.com/florenceegi/egi-hub/internal/httputil"
	"github.com/florenceegi/egi-hub/pkg/domain"
)

// Error codes carried in the "code" field of error responses.
const (
	CodeValidation       = "validation_failed"
	CodeConflict         = "conflict"
	CodeCapacityExceeded = "capacity_exceeded"
	CodePermissionDenied = "permission_denied"
	CodeNotFound         = "not_found"
	CodeExpired          = "expired"
	CodeInternal         = "internal_error"
)

// StatusFor maps a service error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch domain.Category(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest, CodeValidation
	case domain.ErrConflict:
		return http.StatusConflict, CodeConflict
	case domain.ErrCapacityExceeded:
		return http.StatusConflict, CodeCapacityExceeded
	case domain.ErrPermissionDenied:
		return http.StatusForbidden, CodePermissionDenied
	case domain.ErrNotFound:
		return http.StatusNotFound, CodeNotFound
	case domain.ErrExpired:
		return http.StatusGone, CodeExpired
	}
	return http.StatusInternalServerError, CodeInternal
}

// WriteError writes err as a JSON error response. Business errors carry their
// own message; anything else is logged and hidden behind a generic message.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(fallback, "error", err)
		httputil.ErrorCode(w, status, code, fallback)
		return
	}
	httputil.ErrorCode(w, status, code, err.Error())
}

// WriteDecodeError writes the response for a request body that failed to decode.
func WriteDecodeError(w http.ResponseWriter, err error) {
	if httputil.IsMaxBytesError(err) {
		httputil.ErrorCode(w, http.StatusRequestEntityTooLarge, CodeValidation, "request body too large")
		return
	}
	httputil.ErrorCode(w, http.StatusBadRequest, CodeValidation, "invalid request body")
}
