package orgs

import (
	"encoding/json"
	"net/http"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type MemberAddRequest struct {
	Email string     `json:"email"`
	Role  roles.Role `json:"role"`
}

type MemberRoleUpdateRequest struct {
	Role roles.Role `json:"role"`
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// HandleListMembers handles GET /api/v1/orgs/{org_id}/members
func HandleListMembers(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		members, err := svc.ListMembers(ctx, orgID, auth.GetUserID(ctx))
		if err != nil {
			writeOrgError(w, r, err, "Failed to list members")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"members": members,
		})
	}
}

// HandleAddMember handles POST /api/v1/orgs/{org_id}/members
func HandleAddMember(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		var req MemberAddRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Role == "" {
			req.Role = roles.Member
		}

		member, err := svc.AddMember(ctx, orgID, actorUserID, req.Email, req.Role)
		if err != nil {
			writeOrgError(w, r, err, "Failed to add member")
			return
		}

		auditor.Record(ctx, orgID, actorUserID, audit.EventOrgMemberAdded, map[string]any{
			"target_user_id": member.UserID.String(),
			"role":           string(member.Role),
		})

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"member": member,
		})
	}
}

// HandleUpdateMemberRole handles PUT /api/v1/orgs/{org_id}/members/{user_id}
func HandleUpdateMemberRole(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}
		targetUserID, ok := userIDParam(w, r)
		if !ok {
			return
		}

		var req MemberRoleUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if !req.Role.IsAssignable() {
			apperrors.WriteBadRequest(w, r, "Invalid role")
			return
		}

		prevRole, err := svc.UpdateMemberRole(ctx, orgID, actorUserID, targetUserID, req.Role)
		if err != nil {
			writeOrgError(w, r, err, "Failed to update member role")
			return
		}

		auditor.LogOrgMemberRoleUpdated(ctx, orgID, actorUserID, targetUserID, string(prevRole), string(req.Role))

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"updated": true,
		})
	}
}

// HandleRemoveMember handles DELETE /api/v1/orgs/{org_id}/members/{user_id}
func HandleRemoveMember(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}
		targetUserID, ok := userIDParam(w, r)
		if !ok {
			return
		}

		removedRole, err := svc.RemoveMember(ctx, orgID, actorUserID, targetUserID)
		if err != nil {
			writeOrgError(w, r, err, "Failed to remove member")
			return
		}

		auditor.LogOrgMemberRemoved(ctx, orgID, actorUserID, targetUserID, string(removedRole))

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"removed": true,
		})
	}
}
