// Package domain contains core types for session resolution.
package domain

import "github.com/bwmarrin/snowflake"

// Space is the operating context a session belongs to. A session belongs
// to exactly one space.
type Space string

const (
	// SpaceCustomer is the tenant-facing application space.
	SpaceCustomer Space = "customer"
	// SpaceOperator is the platform-staff space.
	SpaceOperator Space = "operator"
	// SpaceAccounting is the finance/compliance space.
	SpaceAccounting Space = "accounting"
)

// Valid reports whether s is one of the known spaces.
func (s Space) Valid() bool {
	switch s {
	case SpaceCustomer, SpaceOperator, SpaceAccounting:
		return true
	}
	return false
}

// LandingPath is the default page for sessions of this space. Denied
// requests are redirected here, never to the resource they asked for.
func (s Space) LandingPath() string {
	switch s {
	case SpaceCustomer:
		return "/dashboard"
	case SpaceOperator:
		return "/operator"
	case SpaceAccounting:
		return "/accounting"
	}
	return "/signin"
}

// AllowsCrossTenantRead reports whether sessions in this space may be
// granted the explicit multi-tenant read mode. Customer-space sessions
// never aggregate across tenants.
func (s Space) AllowsCrossTenantRead() bool {
	return s == SpaceOperator || s == SpaceAccounting
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"

	RoleOperatorAdmin Role = "operator_admin"
	RoleSupport       Role = "support"

	RoleAccountant Role = "accountant"
	RoleAuditor    Role = "auditor"
)

// spaceRoles is the exhaustive space -> valid roles table. A role outside
// its space marks a corrupted or stale session.
var spaceRoles = map[Space][]Role{
	SpaceCustomer:   {RoleOwner, RoleAdmin, RoleMember, RoleViewer},
	SpaceOperator:   {RoleOperatorAdmin, RoleSupport},
	SpaceAccounting: {RoleAccountant, RoleAuditor},
}

// RolesForSpace returns the roles valid for the given space.
func RolesForSpace(space Space) []Role {
	roles := spaceRoles[space]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// RoleValidForSpace reports whether role belongs to space's role set.
func RoleValidForSpace(role Role, space Space) bool {
	for _, r := range spaceRoles[space] {
		if r == role {
			return true
		}
	}
	return false
}

// Session is the per-request identity value object. It is constructed by
// the resolver at request start and discarded at request end; it is never
// persisted.
type Session struct {
	UserID      snowflake.ID
	OrgID       snowflake.ID
	Space       Space
	Role        Role
	Permissions []string
	Owner       bool
	Privileged  bool
}

// HasPermission reports whether the session carries the permission.
func (s *Session) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
