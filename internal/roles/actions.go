package roles

import "github.com/google/uuid"

// ResourceKind identifies what an action targets.
type ResourceKind string

const (
	ResourceOrganization ResourceKind = "organization"
	ResourceDocument     ResourceKind = "document"
	ResourceMember       ResourceKind = "member"
	ResourceSettings     ResourceKind = "settings"
)

// Actor is the caller of a resource-level check.
type Actor struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   Role
}

// Resource is the object an action is performed on.
type Resource struct {
	Kind      ResourceKind
	ID        uuid.UUID
	CreatedBy uuid.UUID
}

// CanPerformAction decides resource-level access. The creator of a resource
// may always act on it; otherwise the required role depends on the resource
// kind and action.
func CanPerformAction(actor Actor, action string, res Resource) bool {
	if actor.UserID == uuid.Nil || action == "" || res.Kind == "" {
		return false
	}
	if res.CreatedBy != uuid.Nil && res.CreatedBy == actor.UserID {
		return true
	}
	if actor.OrgID == uuid.Nil || actor.Role == "" {
		return false
	}

	var required Role
	switch res.Kind {
	case ResourceOrganization:
		if res.ID != actor.OrgID {
			return false
		}
		required = Admin
		if action == "delete" {
			required = Owner
		}
	case ResourceDocument:
		required = Member
		if action == "delete" {
			required = Admin
		}
	case ResourceMember:
		required = Admin
		if action == "update_role" {
			required = Owner
		}
	case ResourceSettings:
		required = Admin
	default:
		required = Member
	}

	return HasRolePermission(actor.Role, required)
}
