package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a project's end-customer as known to the hub's tenant directory.
// The hub never creates or mutates tenants; it only reads display attributes.
type Tenant struct {
	ID           uuid.UUID
	Name         string
	Slug         string
	ContactEmail *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// DisplayName returns the tenant name, or a generic label when it is empty.
func (t *Tenant) DisplayName() string {
	if t == nil || t.Name == "" {
		return FallbackTenantName(t.idOrNil())
	}
	return t.Name
}

func (t *Tenant) idOrNil() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.ID
}

// FallbackTenantName is the label used for tenants the directory does not know.
func FallbackTenantName(id uuid.UUID) string {
	return "Tenant " + id.String()
}
