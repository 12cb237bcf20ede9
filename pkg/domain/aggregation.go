package domain

import (
	"time"

	"github.com/google/uuid"
)

// AggregationStatus represents the lifecycle state of an aggregation.
type AggregationStatus string

const (
	AggregationStatusActive    AggregationStatus = "active"
	AggregationStatusSuspended AggregationStatus = "suspended"
	AggregationStatusArchived  AggregationStatus = "archived"
)

// Valid reports whether s is a known aggregation status.
func (s AggregationStatus) Valid() bool {
	switch s {
	case AggregationStatusActive, AggregationStatusSuspended, AggregationStatusArchived:
		return true
	}
	return false
}

// SharingPolicy holds the aggregation-wide defaults every member inherits
// unless its membership carries an override.
type SharingPolicy struct {
	ShareDocuments   bool
	ShareAnalytics   bool
	ShareTemplates   bool
	MembersCanInvite bool
}

// DefaultSharingPolicy matches the column defaults of the aggregations table.
func DefaultSharingPolicy(membersCanInvite bool) SharingPolicy {
	return SharingPolicy{
		ShareDocuments:   true,
		ShareAnalytics:   false,
		ShareTemplates:   true,
		MembersCanInvite: membersCanInvite,
	}
}

// Aggregation is a consensual peer group of tenants sharing data.
type Aggregation struct {
	ID                uuid.UUID
	Name              string
	Slug              string
	Description       *string
	CreatedByTenantID uuid.UUID
	Status            AggregationStatus
	Sharing           SharingPolicy
	MaxMembers        *int
	Settings          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive returns true if the aggregation accepts writes.
func (a *Aggregation) IsActive() bool {
	return a.Status == AggregationStatusActive
}

// IsArchived returns true if the aggregation has been archived.
func (a *Aggregation) IsArchived() bool {
	return a.Status == AggregationStatusArchived
}

// IsCreator returns true if tenantID founded the aggregation.
func (a *Aggregation) IsCreator(tenantID uuid.UUID) bool {
	return a.CreatedByTenantID == tenantID
}

// CanAcceptMoreMembers reports whether one more accepted membership fits,
// given the current number of accepted memberships. Callers must pass a
// count read inside the same transaction that performs the acceptance.
func (a *Aggregation) CanAcceptMoreMembers(acceptedCount int) bool {
	if a.Status != AggregationStatusActive {
		return false
	}
	if a.MaxMembers == nil {
		return true
	}
	return acceptedCount < *a.MaxMembers
}
