// Package guard decides whether a subject may see or use a gated resource.
package guard

import (
	"github.com/aliuyar1234/clinicdocs/internal/roles"
)

// Subject is everything a guard knows about the caller.
type Subject struct {
	Authenticated bool
	OrgRole       roles.Role
	GlobalRole    roles.Role
}

// Role resolves the role used for evaluation: the active organization role,
// then the global role, then guest. Unauthenticated callers are always guest.
func (s Subject) Role() roles.Role {
	if !s.Authenticated {
		return roles.Guest
	}
	if s.OrgRole != "" {
		return s.OrgRole
	}
	if s.GlobalRole != "" {
		return s.GlobalRole
	}
	return roles.Guest
}

// Policy describes a gate.
//
// With MatchAll both the role and the permission requirement must hold.
// Otherwise either one suffices; when only one of them is set, that one
// decides. A policy with neither requirement passes everyone, so callers
// should spell that out with Always or Authenticated.
type Policy struct {
	RequiredRole       roles.Role
	RequiredPermission roles.Permission
	MatchAll           bool
	RequireAuth        bool
}

// Always passes every subject, signed in or not.
func Always() Policy {
	return Policy{}
}

// Authenticated passes any signed-in subject.
func Authenticated() Policy {
	return Policy{RequireAuth: true}
}

// RoleAtLeast passes signed-in subjects ranked at or above r.
func RoleAtLeast(r roles.Role) Policy {
	return Policy{RequiredRole: r, RequireAuth: true}
}

// Permission passes signed-in subjects whose role holds p.
func Permission(p roles.Permission) Policy {
	return Policy{RequiredPermission: p, RequireAuth: true}
}

// Both requires the role and the permission together.
func Both(r roles.Role, p roles.Permission) Policy {
	return Policy{RequiredRole: r, RequiredPermission: p, MatchAll: true, RequireAuth: true}
}

// Admin passes admins and owners.
func Admin() Policy { return RoleAtLeast(roles.Admin) }

// Owner passes owners only.
func Owner() Policy { return RoleAtLeast(roles.Owner) }

// Member passes members and above.
func Member() Policy { return RoleAtLeast(roles.Member) }

// Allow evaluates the policy for s. With MatchAll both requirements must
// hold. Otherwise a policy naming both passes when either holds, and a
// policy naming only one is decided by that one alone: a role-only policy
// never passes a lower role. Only a policy naming neither passes everyone.
func (p Policy) Allow(s Subject) bool {
	if p.RequireAuth && !s.Authenticated {
		return false
	}

	role := s.Role()
	hasRoleReq := p.RequiredRole != ""
	hasPermReq := p.RequiredPermission != ""

	hasRole := !hasRoleReq || roles.HasRolePermission(role, p.RequiredRole)
	hasPerm := !hasPermReq || roles.HasPermission(role, p.RequiredPermission)

	if p.MatchAll {
		return hasRole && hasPerm
	}

	switch {
	case hasRoleReq && hasPermReq:
		return hasRole || hasPerm
	case hasRoleReq:
		return hasRole
	case hasPermReq:
		return hasPerm
	default:
		return true
	}
}

// Render returns children when s passes p and fallback otherwise.
func Render[T any](p Policy, s Subject, children, fallback T) T {
	if p.Allow(s) {
		return children
	}
	return fallback
}
