package orgs

import (
	"errors"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
)

var (
	ErrCannotInviteOwner   = errors.New("cannot invite owner role")
	ErrInviteNotFound      = errors.New("invitation not found")
	ErrInviteExpired       = errors.New("invitation expired")
	ErrInviteNotActive     = errors.New("invitation is no longer pending")
	ErrInviteEmailMismatch = errors.New("invitation email does not match user")
)

// InviteStatus is the lifecycle state of an invitation. Everything other
// than pending is terminal.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteDeclined  InviteStatus = "declined"
	InviteCancelled InviteStatus = "cancelled"
)

func (s InviteStatus) IsValid() bool {
	switch s {
	case InvitePending, InviteAccepted, InviteDeclined, InviteCancelled:
		return true
	}
	return false
}

type Invite struct {
	ID             uuid.UUID    `json:"id"`
	OrgID          uuid.UUID    `json:"organization_id"`
	Email          string       `json:"email"`
	Role           roles.Role   `json:"role"`
	Status         InviteStatus `json:"status"`
	InvitedByEmail string       `json:"invited_by_email,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	RespondedAt    *time.Time   `json:"responded_at,omitempty"`
}

// Expired reports whether a pending invitation has passed its expiry.
func (i Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// InvitePreview is what an invitee sees before accepting.
type InvitePreview struct {
	OrgID          uuid.UUID    `json:"organization_id"`
	OrgName        string       `json:"organization_name"`
	Email          string       `json:"email"`
	Role           roles.Role   `json:"role"`
	Status         InviteStatus `json:"status"`
	InvitedByEmail string       `json:"invited_by_email,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
	Expired        bool         `json:"expired"`
}
