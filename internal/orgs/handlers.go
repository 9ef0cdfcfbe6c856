package orgs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// writeOrgError maps service errors to HTTP responses. Non-members get 404
// so organization ids are not disclosed.
func writeOrgError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrOrgNotFound):
		apperrors.WriteNotFound(w, r, "Organization not found")
	case errors.Is(err, ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "Insufficient permissions")
	case errors.Is(err, ErrSlugConflict):
		apperrors.WriteConflict(w, r, "Organization slug already exists")
	case errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrInvalidOrgRole),
		errors.Is(err, ErrCannotInviteOwner),
		errors.Is(err, validation.ErrInvalidSlug),
		errors.Is(err, validation.ErrSlugRequired),
		errors.Is(err, validation.ErrSlugTooLong),
		errors.Is(err, validation.ErrInvalidOrgType),
		errors.Is(err, validation.ErrInvalidEmail):
		apperrors.WriteBadRequest(w, r, err.Error())
	case errors.Is(err, ErrMemberNotFound):
		apperrors.WriteNotFound(w, r, "Member not found")
	case errors.Is(err, ErrUserNotFound):
		apperrors.WriteNotFound(w, r, "No account exists for that email")
	case errors.Is(err, ErrMemberExists):
		apperrors.WriteConflict(w, r, "User is already a member")
	case errors.Is(err, ErrCannotDemoteLastOwner):
		apperrors.WriteConflict(w, r, "Cannot demote the last owner")
	case errors.Is(err, ErrCannotRemoveLastOwner):
		apperrors.WriteConflict(w, r, "Cannot remove the last owner")
	case errors.Is(err, ErrInviteNotFound):
		apperrors.WriteNotFound(w, r, "Invitation not found")
	case errors.Is(err, ErrInviteNotActive):
		apperrors.WriteConflict(w, r, "Invitation already accepted, declined, or cancelled")
	case errors.Is(err, ErrInviteExpired):
		apperrors.WriteGone(w, r, "Invitation expired")
	case errors.Is(err, ErrInviteEmailMismatch):
		apperrors.WriteForbidden(w, r, "Invitation email does not match your account")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		apperrors.WriteInternalError(w, r, fallback)
	}
}

func orgIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid organization ID")
		return uuid.Nil, false
	}
	return orgID, true
}

// HandleCreate handles POST /api/v1/orgs
func HandleCreate(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req CreateInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		org, err := svc.CreateWithOwner(ctx, req, userID)
		if err != nil {
			writeOrgError(w, r, err, "Failed to create organization")
			return
		}

		auditor.Record(ctx, org.ID, userID, audit.EventOrgCreated, map[string]any{"slug": org.Slug})

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"organization": org,
		})
	}
}

// HandleList handles GET /api/v1/orgs
func HandleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgs, err := svc.ListUserOrgs(r.Context(), auth.GetUserID(r.Context()))
		if err != nil {
			writeOrgError(w, r, err, "Failed to list organizations")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organizations": orgs,
		})
	}
}

// HandleGet handles GET /api/v1/orgs/{org_id}
func HandleGet(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		role, err := svc.CheckPermission(ctx, auth.GetUserID(ctx), orgID, roles.ViewOrganization)
		if err != nil {
			writeOrgError(w, r, err, "Failed to load organization")
			return
		}

		org, err := svc.GetByID(ctx, orgID)
		if err != nil {
			writeOrgError(w, r, err, "Failed to load organization")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization": org,
			"role":         role,
			"permissions":  roles.AvailablePermissions(role),
		})
	}
}

// HandleUpdate handles PUT /api/v1/orgs/{org_id}
func HandleUpdate(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		org, err := svc.Update(ctx, orgID, userID, req)
		if err != nil {
			writeOrgError(w, r, err, "Failed to update organization")
			return
		}

		auditor.Record(ctx, orgID, userID, audit.EventOrgUpdated, nil)

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization": org,
		})
	}
}

// HandleDelete handles DELETE /api/v1/orgs/{org_id}. afterDelete, when set,
// runs once the row is gone, e.g. to purge stored objects.
func HandleDelete(svc *Service, afterDelete func(ctx context.Context, orgID uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(ctx, orgID, auth.GetUserID(ctx)); err != nil {
			writeOrgError(w, r, err, "Failed to delete organization")
			return
		}

		if afterDelete != nil {
			afterDelete(ctx, orgID)
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"deleted": true,
		})
	}
}

// HandleSetDefault handles POST /api/v1/orgs/{org_id}/default
func HandleSetDefault(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.SetDefault(ctx, auth.GetUserID(ctx), orgID); err != nil {
			writeOrgError(w, r, err, "Failed to set default organization")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"default_organization_id": orgID,
		})
	}
}
