package domain

import "errors"

// Error categories. Every business-rule error below wraps exactly one of
// these, so callers branch with errors.Is(err, domain.ErrConflict).
var (
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
)

var categories = []error{
	ErrValidation,
	ErrConflict,
	ErrCapacityExceeded,
	ErrPermissionDenied,
	ErrNotFound,
	ErrExpired,
}

// Lookup errors
var (
	ErrAggregationNotFound = newError(ErrNotFound, "aggregation not found")
	ErrMembershipNotFound  = newError(ErrNotFound, "membership not found")
	ErrTenantNotFound      = newError(ErrNotFound, "tenant not found")
)

// Validation errors
var (
	ErrNameRequired       = newError(ErrValidation, "aggregation name is required")
	ErrNameTooLong        = newError(ErrValidation, "aggregation name is too long")
	ErrDescriptionTooLong = newError(ErrValidation, "aggregation description is too long")
	ErrMessageTooLong     = newError(ErrValidation, "message is too long")
	ErrInvalidMaxMembers  = newError(ErrValidation, "max_members must be at least 1")
	ErrInvalidTenantID    = newError(ErrValidation, "tenant id is required")
	ErrInvalidRole        = newError(ErrValidation, "invalid membership role")
	ErrInvalidStatus      = newError(ErrValidation, "invalid membership status")
	ErrUnknownPermission  = newError(ErrValidation, "unknown permission")
	ErrSelfInvitation     = newError(ErrValidation, "a tenant cannot invite itself")
)

// State machine errors
var (
	ErrDuplicateMembership  = newError(ErrConflict, "tenant already has a pending or accepted membership")
	ErrMembershipNotPending = newError(ErrConflict, "membership is not pending")
	ErrMembershipNotActive  = newError(ErrConflict, "membership is not accepted")
	ErrCreatorCannotLeave   = newError(ErrConflict, "the creator cannot leave the aggregation; archive it instead")
	ErrCreatorRoleLocked    = newError(ErrConflict, "the creator's admin role cannot be changed")
	ErrAggregationNotActive = newError(ErrConflict, "aggregation is not active")
	ErrAggregationArchived  = newError(ErrConflict, "aggregation is archived")
	ErrSlugUnavailable      = newError(ErrConflict, "could not allocate a unique slug")
	ErrAggregationFull      = newError(ErrCapacityExceeded, "aggregation has reached its member limit")
	ErrAggregationClosed    = newError(ErrCapacityExceeded, "aggregation is not accepting new members")
	ErrInvitationExpired    = newError(ErrExpired, "invitation has expired")
)

// Authorization errors
var (
	ErrNotAggregationAdmin  = newError(ErrPermissionDenied, "actor is not an admin of the aggregation")
	ErrInviteNotAllowed     = newError(ErrPermissionDenied, "actor may not invite members to the aggregation")
	ErrNotMembershipOwner   = newError(ErrPermissionDenied, "membership belongs to another tenant")
	ErrNotAggregationMember = newError(ErrPermissionDenied, "actor is not a member of the aggregation")
)

type domainError struct {
	category error
	msg      string
}

func newError(category error, msg string) error {
	return &domainError{category: category, msg: msg}
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Unwrap() error { return e.category }

// Category returns the taxonomy sentinel err belongs to, or nil for
// infrastructure errors.
func Category(err error) error {
	for _, c := range categories {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// IsBusinessError reports whether err is a typed business-rule result rather
// than a fatal infrastructure failure.
func IsBusinessError(err error) bool {
	return Category(err) != nil
}
