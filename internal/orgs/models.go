package orgs

import (
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
)

// Org represents an organization in the system
type Org struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	Description     string     `json:"description"`
	Type            *string    `json:"type,omitempty"`
	CreatedByUserID *uuid.UUID `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OrgWithRole combines org information with the caller's membership
type OrgWithRole struct {
	Org
	Role      roles.Role `json:"role"`
	IsDefault bool       `json:"is_default"`
}

// MemberInfo represents a member of an organization with their details
type MemberInfo struct {
	UserID    uuid.UUID  `json:"user_id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      roles.Role `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateInput holds the fields accepted when creating an organization.
type CreateInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// UpdateInput holds the mutable fields. Slug is immutable after creation.
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}
