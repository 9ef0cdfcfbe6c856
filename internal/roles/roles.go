// Package roles defines the tenant role ladder and the static permission table
// every access decision is derived from.
package roles

import "sort"

// Role is a named permission level within an organization.
type Role string

const (
	Owner  Role = "owner"
	Admin  Role = "admin"
	Member Role = "member"
	Guest  Role = "guest"
)

var weights = map[Role]int{
	Owner:  100,
	Admin:  75,
	Member: 50,
	Guest:  0,
}

// Weight returns the role's rank. Unknown roles rank as guest.
func Weight(r Role) int {
	return weights[r]
}

// IsValid reports whether r is one of the four known roles.
func (r Role) IsValid() bool {
	_, ok := weights[r]
	return ok
}

// IsAssignable reports whether r can be stored on a membership row.
func (r Role) IsAssignable() bool {
	return r == Owner || r == Admin || r == Member
}

// Permission is a named capability.
type Permission string

const (
	CreateOrganization Permission = "CREATE_ORGANIZATION"
	ViewOrganization   Permission = "VIEW_ORGANIZATION"
	EditOrganization   Permission = "EDIT_ORGANIZATION"
	DeleteOrganization Permission = "DELETE_ORGANIZATION"
	ViewMembers        Permission = "VIEW_MEMBERS"
	InviteMembers      Permission = "INVITE_MEMBERS"
	RemoveMembers      Permission = "REMOVE_MEMBERS"
	ChangeMemberRole   Permission = "CHANGE_MEMBER_ROLE"
	ViewDocuments      Permission = "VIEW_DOCUMENTS"
	UploadDocuments    Permission = "UPLOAD_DOCUMENTS"
	DeleteDocuments    Permission = "DELETE_DOCUMENTS"
	ShareDocuments     Permission = "SHARE_DOCUMENTS"
	ViewAnalytics      Permission = "VIEW_ANALYTICS"
	ManageSettings     Permission = "MANAGE_SETTINGS"
	ManageBilling      Permission = "MANAGE_BILLING"
	EditProfile        Permission = "EDIT_PROFILE"
)

// The allow-lists are literal: a role not listed does not hold the
// permission even if it outranks a listed role.
var permissions = map[Permission][]Role{
	CreateOrganization: {Guest},
	ViewOrganization:   {Member, Admin, Owner},
	EditOrganization:   {Admin, Owner},
	DeleteOrganization: {Owner},
	ViewMembers:        {Member, Admin, Owner},
	InviteMembers:      {Admin, Owner},
	RemoveMembers:      {Admin, Owner},
	ChangeMemberRole:   {Owner},
	ViewDocuments:      {Member, Admin, Owner},
	UploadDocuments:    {Member, Admin, Owner},
	DeleteDocuments:    {Admin, Owner},
	ShareDocuments:     {Admin, Owner},
	ViewAnalytics:      {Admin, Owner},
	ManageSettings:     {Admin, Owner},
	ManageBilling:      {Owner},
	EditProfile:        {Guest},
}

// HasPermission reports whether role appears in the allow-list for key.
// An empty role or unknown key is always denied.
func HasPermission(role Role, key Permission) bool {
	if role == "" {
		return false
	}
	for _, allowed := range permissions[key] {
		if allowed == role {
			return true
		}
	}
	return false
}

// HasRolePermission reports whether userRole ranks at least as high as required.
func HasRolePermission(userRole, required Role) bool {
	return Weight(userRole) >= Weight(required)
}

// AvailablePermissions lists every permission held by role, sorted by name.
func AvailablePermissions(role Role) []Permission {
	var out []Permission
	for key := range permissions {
		if HasPermission(role, key) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllPermissions returns every known permission key, sorted by name.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissions))
	for key := range permissions {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns the known roles from highest to lowest weight.
func All() []Role {
	return []Role{Owner, Admin, Member, Guest}
}

// Parse converts s to a Role, returning false for unknown values.
func Parse(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}
