package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Permission is a data-sharing capability a member may hold.
type Permission string

const (
	PermissionShareDocuments Permission = "share_documents"
	PermissionShareAnalytics Permission = "share_analytics"
	PermissionShareTemplates Permission = "share_templates"
	PermissionInviteMembers  Permission = "invite_members"
)

// Permissions lists every known permission key.
var Permissions = []Permission{
	PermissionShareDocuments,
	PermissionShareAnalytics,
	PermissionShareTemplates,
	PermissionInviteMembers,
}

// ParsePermission maps a key onto the closed permission set.
func ParsePermission(key string) (Permission, bool) {
	p := Permission(key)
	switch p {
	case PermissionShareDocuments, PermissionShareAnalytics, PermissionShareTemplates, PermissionInviteMembers:
		return p, true
	}
	return "", false
}

// Default returns the aggregation-wide value for p. Unknown permissions are denied.
func (p Permission) Default(policy SharingPolicy) bool {
	switch p {
	case PermissionShareDocuments:
		return policy.ShareDocuments
	case PermissionShareAnalytics:
		return policy.ShareAnalytics
	case PermissionShareTemplates:
		return policy.ShareTemplates
	case PermissionInviteMembers:
		return policy.MembersCanInvite
	}
	return false
}

// PermissionOverrides is a per-membership map that supersedes the
// aggregation's sharing policy. A nil map means "no overrides".
type PermissionOverrides map[Permission]bool

// ParsePermissionOverrides validates raw keys against the closed permission set.
func ParsePermissionOverrides(raw map[string]bool) (PermissionOverrides, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(PermissionOverrides, len(raw))
	for key, value := range raw {
		p, ok := ParsePermission(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, key)
		}
		out[p] = value
	}
	return out, nil
}

// Lookup returns the override for p, if any.
func (o PermissionOverrides) Lookup(p Permission) (value, ok bool) {
	if o == nil {
		return false, false
	}
	value, ok = o[p]
	return value, ok
}

// Keys returns the overridden permissions in a stable order.
func (o PermissionOverrides) Keys() []Permission {
	keys := make([]Permission, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarshalJSON encodes the overrides as a plain string-keyed object.
func (o PermissionOverrides) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	raw := make(map[string]bool, len(o))
	for k, v := range o {
		raw[string(k)] = v
	}
	return json.Marshal(raw)
}

// ResolvePermission decides p for one member: a known override wins, then the
// aggregation default. Unknown permissions are denied regardless of overrides.
func ResolvePermission(policy SharingPolicy, overrides PermissionOverrides, p Permission) bool {
	if _, known := ParsePermission(string(p)); !known {
		return false
	}
	if value, ok := overrides.Lookup(p); ok {
		return value
	}
	return p.Default(policy)
}
