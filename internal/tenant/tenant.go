// Package tenant resolves the active organization for tenant-scoped routes.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/aliuyar1234/clinicdocs/internal/orgs"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Header carries the active organization id.
const Header = "X-Organization-ID"

// RoleResolver looks up a user's role in an organization.
type RoleResolver interface {
	GetUserOrgRole(ctx context.Context, userID, orgID uuid.UUID) (roles.Role, error)
}

type orgKey struct{}

// Org is the resolved tenant for a request.
type Org struct {
	ID   uuid.UUID
	Role roles.Role
}

// Middleware requires a valid X-Organization-ID the caller belongs to. It
// stores the tenant on the context and adds the membership role to the
// guard subject. Must run after auth.Middleware.
func Middleware(resolver RoleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := auth.GetUserID(ctx)
			if userID == uuid.Nil {
				apperrors.WriteUnauthorized(w, r, "Authentication required")
				return
			}

			raw := strings.TrimSpace(r.Header.Get(Header))
			if raw == "" {
				apperrors.WriteBadRequest(w, r, "X-Organization-ID header is required")
				return
			}
			orgID, err := uuid.Parse(raw)
			if err != nil {
				apperrors.WriteBadRequest(w, r, "Invalid organization ID")
				return
			}

			role, err := resolver.GetUserOrgRole(ctx, userID, orgID)
			if err != nil {
				if errors.Is(err, orgs.ErrNotMember) {
					apperrors.WriteNotFound(w, r, "Organization not found")
					return
				}
				log.Error().Err(err).Str("org_id", orgID.String()).Msg("Failed to resolve tenant")
				apperrors.WriteInternalError(w, r, "Failed to resolve organization")
				return
			}

			subject := guard.SubjectFrom(ctx)
			subject.OrgRole = role

			ctx = context.WithValue(ctx, orgKey{}, Org{ID: orgID, Role: role})
			ctx = guard.WithSubject(ctx, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the tenant resolved by Middleware.
func FromContext(ctx context.Context) (Org, bool) {
	org, ok := ctx.Value(orgKey{}).(Org)
	return org, ok
}

// WithOrg stores org on ctx. Used by tests and background work.
func WithOrg(ctx context.Context, org Org) context.Context {
	return context.WithValue(ctx, orgKey{}, org)
}
