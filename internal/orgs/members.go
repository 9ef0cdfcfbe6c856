package orgs

import (
	"errors"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
)

var (
	ErrMemberNotFound        = errors.New("member not found")
	ErrMemberExists          = errors.New("user is already a member")
	ErrUserNotFound          = errors.New("no account exists for that email")
	ErrCannotDemoteLastOwner = errors.New("cannot demote last owner")
	ErrCannotRemoveLastOwner = errors.New("cannot remove last owner")
	ErrInvalidOrgRole        = errors.New("invalid organization role")
)

// canAssignRole reports whether actor may grant role to someone else,
// whether by direct add or invitation. Owners grant any assignable role;
// admins only grant member.
func canAssignRole(actor, role roles.Role) bool {
	if !role.IsAssignable() {
		return false
	}
	switch actor {
	case roles.Owner:
		return true
	case roles.Admin:
		return role == roles.Member
	default:
		return false
	}
}

// canRemoveMember reports whether actor may remove a member holding target.
// Anyone may leave. Admins may only remove plain members.
func canRemoveMember(actor, target roles.Role, self bool) bool {
	if self {
		return true
	}
	if !roles.HasPermission(actor, roles.RemoveMembers) {
		return false
	}
	if actor == roles.Admin {
		return target == roles.Member
	}
	return true
}
