package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrSlugConflict is returned when an organization slug already exists
	ErrSlugConflict = errors.New("organization slug already exists")

	// ErrNameRequired is returned when an organization name is blank
	ErrNameRequired = errors.New("organization name is required")

	// ErrNotMember is returned when a user is not a member of an organization
	ErrNotMember = errors.New("user is not a member of this organization")

	// ErrInsufficientPermissions is returned when a user lacks required permissions
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)

const orgColumns = `o.id, o.name, o.slug, o.description, o.org_type, o.created_by_user_id, o.created_at, o.updated_at`

// Service provides organization-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new organization service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func scanOrg(row pgx.Row, extra ...any) (*Org, error) {
	var org Org
	var createdBy uuid.NullUUID
	dest := append([]any{
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.Description,
		&org.Type,
		&createdBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		org.CreatedByUserID = &createdBy.UUID
	}
	return &org, nil
}

// GetByID retrieves an organization by ID
func (s *Service) GetByID(ctx context.Context, orgID uuid.UUID) (*Org, error) {
	org, err := scanOrg(s.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM orgs o WHERE o.id = $1`, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListUserOrgs retrieves all organizations for a user with their roles.
// The default organization sorts first.
func (s *Service) ListUserOrgs(ctx context.Context, userID uuid.UUID) ([]OrgWithRole, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orgColumns+`, m.role, m.is_default
		FROM orgs o
		INNER JOIN org_memberships m ON o.id = m.org_id
		WHERE m.user_id = $1
		ORDER BY m.is_default DESC, o.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orgs: %w", err)
	}
	defer rows.Close()

	orgs := []OrgWithRole{}
	for rows.Next() {
		var role string
		var isDefault bool
		org, err := scanOrg(rows, &role, &isDefault)
		if err != nil {
			return nil, fmt.Errorf("failed to scan org: %w", err)
		}
		orgs = append(orgs, OrgWithRole{Org: *org, Role: roles.Role(role), IsDefault: isDefault})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating org rows: %w", err)
	}

	return orgs, nil
}

// NormalizeCreateInput trims fields, derives the slug from the name when
// absent, and validates everything. It touches no storage.
func NormalizeCreateInput(in CreateInput) (CreateInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Type = strings.TrimSpace(in.Type)
	in.Slug = strings.TrimSpace(in.Slug)

	if in.Name == "" {
		return in, ErrNameRequired
	}
	if in.Slug == "" {
		in.Slug = validation.Slugify(in.Name)
	}
	if err := validation.ValidateSlug(in.Slug); err != nil {
		return in, err
	}
	if err := validation.ValidateOrgType(in.Type); err != nil {
		return in, err
	}
	return in, nil
}

// CreateWithOwner creates a new organization and makes the user its owner.
// The new organization becomes the user's default when they have none.
func (s *Service) CreateWithOwner(ctx context.Context, in CreateInput, userID uuid.UUID) (*OrgWithRole, error) {
	in, err := NormalizeCreateInput(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var orgType *string
	if in.Type != "" {
		orgType = &in.Type
	}

	org, err := scanOrg(tx.QueryRow(ctx, `
		INSERT INTO orgs AS o (name, slug, description, org_type, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+orgColumns,
		in.Name, in.Slug, in.Description, orgType, userID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, ErrSlugConflict
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	var isDefault bool
	err = tx.QueryRow(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, is_default)
		VALUES ($1, $2, $3, NOT EXISTS (
			SELECT 1 FROM org_memberships WHERE user_id = $2 AND is_default
		))
		RETURNING is_default
	`, org.ID, userID, roles.Owner).Scan(&isDefault)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &OrgWithRole{Org: *org, Role: roles.Owner, IsDefault: isDefault}, nil
}

// Update changes the name and/or description.
func (s *Service) Update(ctx context.Context, orgID, actorUserID uuid.UUID, in UpdateInput) (*Org, error) {
	if _, err := s.CheckPermission(ctx, actorUserID, orgID, roles.EditOrganization); err != nil {
		return nil, err
	}

	var name, description *string
	if in.Name != nil {
		v := strings.TrimSpace(*in.Name)
		if v == "" {
			return nil, ErrNameRequired
		}
		name = &v
	}
	if in.Description != nil {
		v := strings.TrimSpace(*in.Description)
		description = &v
	}

	org, err := scanOrg(s.pool.QueryRow(ctx, `
		UPDATE orgs AS o
		SET name = COALESCE($2, o.name),
		    description = COALESCE($3, o.description),
		    updated_at = NOW()
		WHERE o.id = $1
		RETURNING `+orgColumns,
		orgID, name, description,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}
	return org, nil
}

// Delete removes the organization. Memberships, invitations, documents,
// and their versions cascade. The caller must be an owner.
func (s *Service) Delete(ctx context.Context, orgID, actorUserID uuid.UUID) error {
	if _, err := s.CheckPermission(ctx, actorUserID, orgID, roles.DeleteOrganization); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM orgs WHERE id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrgNotFound
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("actor_user_id", actorUserID.String()).
		Msg("Organization deleted")
	return nil
}

// SetDefault flags orgID as the user's default, clearing any previous one.
func (s *Service) SetDefault(ctx context.Context, userID, orgID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM org_memberships WHERE org_id = $1 AND user_id = $2)
	`, orgID, userID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !exists {
		return ErrNotMember
	}

	if _, err := tx.Exec(ctx, `
		UPDATE org_memberships SET is_default = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_default AND org_id <> $2
	`, userID, orgID); err != nil {
		return fmt.Errorf("failed to clear default: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE org_memberships SET is_default = TRUE, updated_at = NOW()
		WHERE user_id = $1 AND org_id = $2 AND NOT is_default
	`, userID, orgID); err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUserOrgRole retrieves a user's role in an organization
// Returns ErrNotMember if the user is not a member
func (s *Service) GetUserOrgRole(ctx context.Context, userID, orgID uuid.UUID) (roles.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT role FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to get org role: %w", err)
	}
	return roles.Role(role), nil
}

// CheckPermission verifies that a user's role in the organization holds perm.
// Returns the user's role if they are a member.
func (s *Service) CheckPermission(ctx context.Context, userID, orgID uuid.UUID, perm roles.Permission) (roles.Role, error) {
	role, err := s.GetUserOrgRole(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			log.Debug().
				Str("user_id", userID.String()).
				Str("org_id", orgID.String()).
				Msg("RBAC: User is not a member of organization")
		}
		return "", err
	}

	if !roles.HasPermission(role, perm) {
		log.Warn().
			Str("user_id", userID.String()).
			Str("org_id", orgID.String()).
			Str("user_role", string(role)).
			Str("permission", string(perm)).
			Msg("RBAC: Insufficient permissions")
		return role, ErrInsufficientPermissions
	}
	return role, nil
}
