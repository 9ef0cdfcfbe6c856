package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const inviteTTL = 7 * 24 * time.Hour

const inviteColumns = `i.id, i.org_id, i.email, i.role, i.status, COALESCE(u.email, ''), i.created_at, i.expires_at, i.responded_at`

func scanInvite(row pgx.Row) (*Invite, error) {
	var inv Invite
	var role, status string
	if err := row.Scan(&inv.ID, &inv.OrgID, &inv.Email, &role, &status, &inv.InvitedByEmail,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.RespondedAt); err != nil {
		return nil, err
	}
	inv.Role = roles.Role(role)
	inv.Status = InviteStatus(status)
	return &inv, nil
}

// CreateInvite issues a pending invitation and returns it with its bearer
// token. Any earlier pending invitation for the same email is cancelled.
func (s *Service) CreateInvite(ctx context.Context, orgID, actorUserID uuid.UUID, email string, role roles.Role) (*Invite, string, error) {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, "", err
	}
	if role == roles.Owner {
		return nil, "", ErrCannotInviteOwner
	}
	if !role.IsAssignable() {
		return nil, "", ErrInvalidOrgRole
	}

	actorRole, err := s.CheckPermission(ctx, actorUserID, orgID, roles.InviteMembers)
	if err != nil {
		return nil, "", err
	}
	if !canAssignRole(actorRole, role) {
		return nil, "", ErrInsufficientPermissions
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		UPDATE org_invitations
		SET status = $3, responded_by_user_id = $4, responded_at = NOW()
		WHERE org_id = $1
		  AND email = $2
		  AND status = 'pending'
	`, orgID, email, InviteCancelled, actorUserID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to cancel existing invitations: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		token, tokenHash, err := GenerateInviteToken()
		if err != nil {
			return nil, "", err
		}

		expiresAt := time.Now().UTC().Add(inviteTTL)

		invite, err := scanInvite(tx.QueryRow(ctx, `
			WITH i AS (
				INSERT INTO org_invitations (org_id, email, role, token_hash, invited_by_user_id, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING *
			)
			SELECT `+inviteColumns+`
			FROM i
			LEFT JOIN users u ON u.id = i.invited_by_user_id
		`, orgID, email, role, tokenHash, actorUserID, expiresAt))
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
			}
			return invite, token, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Token hash collision; retry.
			continue
		}
		return nil, "", fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil, "", fmt.Errorf("failed to create invitation: token collision retry exhausted")
}

// ListInvites lists invitations for an organization, newest first. An empty
// status lists pending ones that have not yet expired.
func (s *Service) ListInvites(ctx context.Context, orgID, actorUserID uuid.UUID, status InviteStatus) ([]Invite, error) {
	if _, err := s.CheckPermission(ctx, actorUserID, orgID, roles.InviteMembers); err != nil {
		return nil, err
	}

	onlyLive := status == ""
	if onlyLive {
		status = InvitePending
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+inviteColumns+`
		FROM org_invitations i
		LEFT JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.org_id = $1
		  AND i.status = $2
		  AND (NOT $3 OR i.expires_at > NOW())
		ORDER BY i.created_at DESC
	`, orgID, status, onlyLive)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invites := []Invite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return invites, nil
}

// CancelInvite withdraws a pending invitation.
func (s *Service) CancelInvite(ctx context.Context, orgID, inviteID, actorUserID uuid.UUID) error {
	if _, err := s.CheckPermission(ctx, actorUserID, orgID, roles.InviteMembers); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE org_invitations
		SET status = $3, responded_by_user_id = $4, responded_at = NOW()
		WHERE id = $1
		  AND org_id = $2
		  AND status = 'pending'
	`, inviteID, orgID, InviteCancelled, actorUserID)
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInviteNotFound
	}

	return nil
}

// PreviewInvite describes the invitation behind token without consuming it.
func (s *Service) PreviewInvite(ctx context.Context, token string) (*InvitePreview, error) {
	token = strings.TrimSpace(token)
	if !ValidateInviteTokenFormat(token) {
		return nil, ErrInviteNotFound
	}

	var p InvitePreview
	var role, status string
	err := s.pool.QueryRow(ctx, `
		SELECT i.org_id, o.name, i.email, i.role, i.status, COALESCE(u.email, ''), i.expires_at
		FROM org_invitations i
		INNER JOIN orgs o ON o.id = i.org_id
		LEFT JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.token_hash = $1
	`, HashInviteToken(token)).Scan(&p.OrgID, &p.OrgName, &p.Email, &role, &status, &p.InvitedByEmail, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	p.Role = roles.Role(role)
	p.Status = InviteStatus(status)
	p.Expired = !p.ExpiresAt.After(time.Now().UTC())
	return &p, nil
}

// AcceptInvite consumes a pending invitation and creates the membership.
// The invitation becomes the user's default organization when they have none.
func (s *Service) AcceptInvite(ctx context.Context, token string, userID uuid.UUID) (*Invite, roles.Role, error) {
	var finalRole roles.Role
	invite, err := s.respondToInvite(ctx, token, userID, InviteAccepted, func(tx pgx.Tx, inv *Invite) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO org_memberships (org_id, user_id, role, is_default)
			VALUES ($1, $2, $3, NOT EXISTS (
				SELECT 1 FROM org_memberships WHERE user_id = $2 AND is_default
			))
			ON CONFLICT (org_id, user_id) DO NOTHING
		`, inv.OrgID, userID, inv.Role); err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}

		var role string
		if err := tx.QueryRow(ctx, `
			SELECT role FROM org_memberships WHERE org_id = $1 AND user_id = $2
		`, inv.OrgID, userID).Scan(&role); err != nil {
			return fmt.Errorf("failed to load membership: %w", err)
		}
		finalRole = roles.Role(role)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return invite, finalRole, nil
}

// DeclineInvite marks a pending invitation declined.
func (s *Service) DeclineInvite(ctx context.Context, token string, userID uuid.UUID) (*Invite, error) {
	return s.respondToInvite(ctx, token, userID, InviteDeclined, nil)
}

// respondToInvite moves a pending invitation to a terminal status inside a
// transaction, running apply before the status change.
func (s *Service) respondToInvite(ctx context.Context, token string, userID uuid.UUID, next InviteStatus, apply func(pgx.Tx, *Invite) error) (*Invite, error) {
	token = strings.TrimSpace(token)
	if !ValidateInviteTokenFormat(token) {
		return nil, ErrInviteNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	invite, err := scanInvite(tx.QueryRow(ctx, `
		SELECT `+inviteColumns+`
		FROM org_invitations i
		LEFT JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.token_hash = $1
		FOR UPDATE OF i
	`, HashInviteToken(token)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if invite.Status != InvitePending {
		return nil, ErrInviteNotActive
	}
	if invite.Expired(time.Now().UTC()) {
		return nil, ErrInviteExpired
	}

	var userEmail string
	if err := tx.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&userEmail); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !strings.EqualFold(userEmail, invite.Email) {
		return nil, ErrInviteEmailMismatch
	}

	if apply != nil {
		if err := apply(tx, invite); err != nil {
			return nil, err
		}
	}

	var respondedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE org_invitations
		SET status = $2, responded_by_user_id = $3, responded_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING responded_at
	`, invite.ID, next, userID).Scan(&respondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotActive
		}
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	invite.Status = next
	invite.RespondedAt = &respondedAt
	return invite, nil
}
