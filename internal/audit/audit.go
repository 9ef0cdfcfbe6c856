package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventUserSignup            = "user.signup"
	EventUserUpdated           = "user.updated"
	EventLoginFailed           = "auth.login_failed"
	EventLogout                = "auth.logout"
	EventPasswordReset         = "auth.password_reset"
	EventPasswordChanged       = "auth.password_changed"
	EventEmailVerified         = "auth.email_verified"
	EventOrgCreated            = "org.created"
	EventOrgUpdated            = "org.updated"
	EventOrgDeleted            = "org.deleted"
	EventOrgInviteCreated      = "org.invite_created"
	EventOrgInviteCancelled    = "org.invite_cancelled"
	EventOrgInviteAccepted     = "org.invite_accepted"
	EventOrgInviteDeclined     = "org.invite_declined"
	EventOrgMemberAdded        = "org.member_added"
	EventOrgMemberRoleUpdated  = "org.member_role_updated"
	EventOrgMemberRemoved      = "org.member_removed"
	EventDocumentUploaded      = "document.uploaded"
	EventDocumentProcessQueued = "document.processing_requested"
	EventDocumentDataUpdated   = "document.data_updated"
	EventDocumentDeleted       = "document.deleted"
)

// Writer appends audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID       *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]any
}

// Log writes one audit entry. A nil Writer discards events.
func (w *Writer) Log(ctx context.Context, params LogParams) error {
	if w == nil || w.pool == nil {
		return nil
	}

	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO audit_log (org_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4)
	`, toNullUUID(params.OrgID), toNullUUID(params.ActorUserID), params.Action, metaJSON)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Debug().
		Str("action", params.Action).
		Interface("org_id", params.OrgID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

// Record logs an org-scoped event and swallows failures after logging them.
// Handlers use it so auditing never fails the request.
func (w *Writer) Record(ctx context.Context, orgID, actorUserID uuid.UUID, action string, meta map[string]any) {
	params := LogParams{Action: action, Meta: meta}
	if orgID != uuid.Nil {
		params.OrgID = &orgID
	}
	if actorUserID != uuid.Nil {
		params.ActorUserID = &actorUserID
	}
	_ = w.Log(ctx, params)
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogUserSignup(ctx context.Context, userID uuid.UUID, email string) {
	w.Record(ctx, uuid.Nil, userID, EventUserSignup, map[string]any{"email": email})
}

func (w *Writer) LogLoginFailed(ctx context.Context, email, ip string) {
	w.Record(ctx, uuid.Nil, uuid.Nil, EventLoginFailed, map[string]any{"email": email, "ip": ip})
}

func (w *Writer) LogOrgInviteCreated(ctx context.Context, orgID, actorUserID, inviteID uuid.UUID, email, role string) {
	w.Record(ctx, orgID, actorUserID, EventOrgInviteCreated, map[string]any{
		"invite_id": inviteID.String(),
		"email":     email,
		"role":      role,
	})
}

func (w *Writer) LogOrgMemberRoleUpdated(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, previousRole, newRole string) {
	w.Record(ctx, orgID, actorUserID, EventOrgMemberRoleUpdated, map[string]any{
		"target_user_id": targetUserID.String(),
		"previous_role":  previousRole,
		"new_role":       newRole,
	})
}

func (w *Writer) LogOrgMemberRemoved(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, removedRole string) {
	w.Record(ctx, orgID, actorUserID, EventOrgMemberRemoved, map[string]any{
		"target_user_id": targetUserID.String(),
		"role":           removedRole,
	})
}

func (w *Writer) LogDocumentEvent(ctx context.Context, orgID, actorUserID, documentID uuid.UUID, action string) {
	w.Record(ctx, orgID, actorUserID, action, map[string]any{"document_id": documentID.String()})
}
