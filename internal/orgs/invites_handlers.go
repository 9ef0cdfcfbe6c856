package orgs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InviteNotifier emails invitation links.
type InviteNotifier interface {
	SendInvitation(ctx context.Context, to, orgName, role, token string) error
}

type InviteCreateRequest struct {
	Email string     `json:"email"`
	Role  roles.Role `json:"role"`
}

type InviteCreateResponse struct {
	Invite
	Token     string `json:"token"`
	AcceptURL string `json:"accept_url"`
}

// HandleCreateInvite handles POST /api/v1/orgs/{org_id}/invitations
func HandleCreateInvite(svc *Service, auditor *audit.Writer, notifier InviteNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		var req InviteCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Role == "" {
			req.Role = roles.Member
		}

		invite, token, err := svc.CreateInvite(ctx, orgID, userID, req.Email, req.Role)
		if err != nil {
			writeOrgError(w, r, err, "Failed to create invitation")
			return
		}

		auditor.LogOrgInviteCreated(ctx, orgID, userID, invite.ID, invite.Email, string(invite.Role))

		if notifier != nil {
			orgName := ""
			if org, err := svc.GetByID(ctx, orgID); err == nil {
				orgName = org.Name
			}
			if err := notifier.SendInvitation(ctx, invite.Email, orgName, string(invite.Role), token); err != nil {
				log.Warn().Err(err).Str("invite_id", invite.ID.String()).Msg("Failed to send invitation email")
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invitation": InviteCreateResponse{
				Invite:    *invite,
				Token:     token,
				AcceptURL: "/invitations/accept?token=" + url.QueryEscape(token),
			},
		})
	}
}

// HandleListInvites handles GET /api/v1/orgs/{org_id}/invitations
func HandleListInvites(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		status := InviteStatus(r.URL.Query().Get("status"))
		if status != "" && !status.IsValid() {
			apperrors.WriteBadRequest(w, r, "Invalid status filter")
			return
		}

		invites, err := svc.ListInvites(ctx, orgID, auth.GetUserID(ctx), status)
		if err != nil {
			writeOrgError(w, r, err, "Failed to list invitations")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitations": invites,
		})
	}
}

// HandleCancelInvite handles DELETE /api/v1/orgs/{org_id}/invitations/{invite_id}
func HandleCancelInvite(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		inviteID, err := uuid.Parse(chi.URLParam(r, "invite_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid invitation ID")
			return
		}

		if err := svc.CancelInvite(ctx, orgID, inviteID, userID); err != nil {
			writeOrgError(w, r, err, "Failed to cancel invitation")
			return
		}

		auditor.Record(ctx, orgID, userID, audit.EventOrgInviteCancelled, map[string]any{
			"invite_id": inviteID.String(),
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"cancelled": true,
		})
	}
}

// HandlePreviewInvite handles GET /api/v1/invitations/{token}
func HandlePreviewInvite(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := svc.PreviewInvite(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			writeOrgError(w, r, err, "Failed to load invitation")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitation": preview,
		})
	}
}

// HandleAcceptInvite handles POST /api/v1/invitations/{token}/accept
func HandleAcceptInvite(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		invite, role, err := svc.AcceptInvite(ctx, chi.URLParam(r, "token"), userID)
		if err != nil {
			writeOrgError(w, r, err, "Failed to accept invitation")
			return
		}

		auditor.Record(ctx, invite.OrgID, userID, audit.EventOrgInviteAccepted, map[string]any{
			"invite_id": invite.ID.String(),
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"accepted":        true,
			"invitation_id":   invite.ID,
			"organization_id": invite.OrgID,
			"role":            role,
		})
	}
}

// HandleDeclineInvite handles POST /api/v1/invitations/{token}/decline
func HandleDeclineInvite(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		invite, err := svc.DeclineInvite(ctx, chi.URLParam(r, "token"), userID)
		if err != nil {
			writeOrgError(w, r, err, "Failed to decline invitation")
			return
		}

		auditor.Record(ctx, invite.OrgID, userID, audit.EventOrgInviteDeclined, map[string]any{
			"invite_id": invite.ID.String(),
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"declined": true,
		})
	}
}
