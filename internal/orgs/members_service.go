package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ListMembers retrieves all members of an organization. The caller must be
// able to view members.
func (s *Service) ListMembers(ctx context.Context, orgID, actorUserID uuid.UUID) ([]MemberInfo, error) {
	if _, err := s.CheckPermission(ctx, actorUserID, orgID, roles.ViewMembers); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.user_id, u.email, u.full_name, m.role, m.created_at
		FROM org_memberships m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.org_id = $1
		ORDER BY m.created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []MemberInfo{}
	for rows.Next() {
		var member MemberInfo
		var role string
		if err := rows.Scan(&member.UserID, &member.Email, &member.FullName, &role, &member.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Role = roles.Role(role)
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}

// AddMember adds an existing account to the organization directly.
func (s *Service) AddMember(ctx context.Context, orgID, actorUserID uuid.UUID, email string, role roles.Role) (*MemberInfo, error) {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !role.IsAssignable() {
		return nil, ErrInvalidOrgRole
	}

	actorRole, err := s.CheckPermission(ctx, actorUserID, orgID, roles.InviteMembers)
	if err != nil {
		return nil, err
	}
	if !canAssignRole(actorRole, role) {
		return nil, ErrInsufficientPermissions
	}

	var member MemberInfo
	err = s.pool.QueryRow(ctx, `SELECT id, email, full_name FROM users WHERE email = $1`, email).
		Scan(&member.UserID, &member.Email, &member.FullName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, orgID, member.UserID, role).Scan(&member.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrMemberExists
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	member.Role = role
	return &member, nil
}

// UpdateMemberRole changes a member's role. Only owners hold
// CHANGE_MEMBER_ROLE. The last owner cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, newRole roles.Role) (previousRole roles.Role, err error) {
	if !newRole.IsAssignable() {
		return "", ErrInvalidOrgRole
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	actorRole, err := memberRole(ctx, tx, orgID, actorUserID, false)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return "", ErrNotMember
		}
		return "", err
	}
	if !roles.HasPermission(actorRole, roles.ChangeMemberRole) {
		return "", ErrInsufficientPermissions
	}

	currentRole, err := memberRole(ctx, tx, orgID, targetUserID, true)
	if err != nil {
		return "", err
	}

	if currentRole == roles.Owner && newRole != roles.Owner {
		owners, err := lockOwners(ctx, tx, orgID)
		if err != nil {
			return "", err
		}
		if owners <= 1 {
			return "", ErrCannotDemoteLastOwner
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE org_memberships
		SET role = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2
	`, orgID, targetUserID, newRole); err != nil {
		return "", fmt.Errorf("failed to update member role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return currentRole, nil
}

// RemoveMember deletes a membership. Members may remove themselves; the last
// owner cannot leave.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID) (removedRole roles.Role, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	actorRole, err := memberRole(ctx, tx, orgID, actorUserID, false)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return "", ErrNotMember
		}
		return "", err
	}

	targetRole, err := memberRole(ctx, tx, orgID, targetUserID, true)
	if err != nil {
		return "", err
	}

	if !canRemoveMember(actorRole, targetRole, actorUserID == targetUserID) {
		return "", ErrInsufficientPermissions
	}

	if targetRole == roles.Owner {
		owners, err := lockOwners(ctx, tx, orgID)
		if err != nil {
			return "", err
		}
		if owners <= 1 {
			return "", ErrCannotRemoveLastOwner
		}
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, targetUserID)
	if err != nil {
		return "", fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrMemberNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return targetRole, nil
}

func memberRole(ctx context.Context, tx pgx.Tx, orgID, userID uuid.UUID, forUpdate bool) (roles.Role, error) {
	query := `SELECT role FROM org_memberships WHERE org_id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var role string
	if err := tx.QueryRow(ctx, query, orgID, userID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMemberNotFound
		}
		return "", fmt.Errorf("failed to load member role: %w", err)
	}
	return roles.Role(role), nil
}

// lockOwners locks every owner row and returns how many there are.
func lockOwners(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT user_id
		FROM org_memberships
		WHERE org_id = $1 AND role = $2
		FOR UPDATE
	`, orgID, roles.Owner)
	if err != nil {
		return 0, fmt.Errorf("failed to lock owners: %w", err)
	}
	defer rows.Close()

	var owners int
	for rows.Next() {
		owners++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to lock owners: %w", err)
	}
	return owners, nil
}
