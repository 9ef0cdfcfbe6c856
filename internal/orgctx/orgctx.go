// Package orgctx holds the organizations the signed-in user belongs to and
// which one is active. The active organization id is written through
// apiclient.Identity so every request is scoped to it.
package orgctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrNameRequired         = errors.New("organization name is required")
	ErrInvalidRole          = errors.New("invitations may grant admin or member only")
)

// Status is where the store is in its load cycle.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// API is the part of the API client the store calls.
type API interface {
	ListOrganizations(ctx context.Context) ([]apiclient.Organization, error)
	CreateOrganization(ctx context.Context, in apiclient.CreateOrganizationInput) (*apiclient.Organization, error)
	SetDefaultOrganization(ctx context.Context, orgID uuid.UUID) error
	CreateInvitation(ctx context.Context, orgID uuid.UUID, email string, role roles.Role) (*apiclient.Invitation, error)
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]apiclient.Member, error)
}

// State is a snapshot of the store.
type State struct {
	Status        Status
	Organizations []apiclient.Organization
	Active        *apiclient.Organization
	Err           error
}

// ActiveRole is the caller's role in the active organization, or "" when
// none is active.
func (s State) ActiveRole() roles.Role {
	if s.Active == nil {
		return ""
	}
	return s.Active.Role
}

// Store is safe for concurrent use.
type Store struct {
	api      API
	identity *apiclient.Identity

	mu    sync.RWMutex
	state State
	// fetches counts list requests so an older response never overwrites a
	// newer one.
	fetches uint64
}

func New(api API, identity *apiclient.Identity) *Store {
	return &Store{
		api:      api,
		identity: identity,
		state:    State{Status: StatusUninitialized},
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	st.Organizations = append([]apiclient.Organization(nil), s.state.Organizations...)
	if s.state.Active != nil {
		active := *s.state.Active
		st.Active = &active
	}
	return st
}

// HandleSessionChange loads organizations when a session starts and forgets
// them when it ends.
func (s *Store) HandleSessionChange(ctx context.Context, authenticated bool) error {
	if authenticated {
		return s.Refresh(ctx)
	}

	s.mu.Lock()
	s.fetches++
	s.state = State{Status: StatusUninitialized}
	s.mu.Unlock()
	return nil
}

// Refresh refetches the organization list and reselects the active one:
// the default, else the first, else none. On failure the previous list is
// kept and the error is recorded.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.fetches++
	fetch := s.fetches
	s.state.Status = StatusLoading
	s.state.Err = nil
	s.mu.Unlock()

	orgs, err := s.api.ListOrganizations(ctx)

	s.mu.Lock()
	if fetch != s.fetches {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state.Status = StatusError
		s.state.Err = err
		s.mu.Unlock()
		return err
	}

	s.state.Organizations = orgs
	s.state.Active = selectActive(orgs)
	s.state.Status = StatusReady
	activeID := ""
	if s.state.Active != nil {
		activeID = s.state.Active.ID.String()
	}
	s.mu.Unlock()

	return s.identity.SetOrganizationID(activeID)
}

func selectActive(orgs []apiclient.Organization) *apiclient.Organization {
	for i := range orgs {
		if orgs[i].IsDefault {
			active := orgs[i]
			return &active
		}
	}
	if len(orgs) > 0 {
		active := orgs[0]
		return &active
	}
	return nil
}

// SwitchOrganization makes id the active organization. The local switch
// happens first; persisting it as the default is best-effort and a failure
// is recorded on Err without rolling back.
func (s *Store) SwitchOrganization(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	idx := -1
	for i := range s.state.Organizations {
		if s.state.Organizations[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}

	active := s.state.Organizations[idx]
	s.state.Active = &active
	s.state.Err = nil
	s.mu.Unlock()

	if err := s.identity.SetOrganizationID(id.String()); err != nil {
		return err
	}

	if active.IsDefault {
		return nil
	}

	if err := s.api.SetDefaultOrganization(ctx, id); err != nil {
		log.Warn().Err(err).Str("org_id", id.String()).Msg("Failed to persist default organization")
		s.mu.Lock()
		s.state.Err = fmt.Errorf("failed to save default organization: %w", err)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	for i := range s.state.Organizations {
		s.state.Organizations[i].IsDefault = s.state.Organizations[i].ID == id
	}
	if s.state.Active != nil && s.state.Active.ID == id {
		s.state.Active.IsDefault = true
	}
	s.mu.Unlock()
	return nil
}

// CreateInput is what the create form collects.
type CreateInput struct {
	Name        string
	Slug        string
	Description string
	Type        string
}

// Normalize trims the input, derives a slug from the name when none is
// given, and validates everything before any network call.
func (in CreateInput) Normalize() (CreateInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)
	in.Description = strings.TrimSpace(in.Description)
	in.Type = strings.TrimSpace(in.Type)

	if in.Name == "" {
		return in, ErrNameRequired
	}
	if in.Slug == "" {
		in.Slug = validation.Slugify(in.Name)
	}
	if err := validation.ValidateSlug(in.Slug); err != nil {
		return in, err
	}
	if in.Type != "" {
		if err := validation.ValidateOrgType(in.Type); err != nil {
			return in, err
		}
	}
	return in, nil
}

// CreateOrganization creates a tenant and then refetches the full list.
func (s *Store) CreateOrganization(ctx context.Context, in CreateInput) (*apiclient.Organization, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	org, err := s.api.CreateOrganization(ctx, apiclient.CreateOrganizationInput{
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		Type:        in.Type,
	})
	if err != nil {
		s.recordErr(err)
		return nil, err
	}

	if err := s.Refresh(ctx); err != nil {
		return org, err
	}
	return org, nil
}

// InviteMember sends an invitation. Membership is unchanged until the
// invitation is accepted, so the local state is not touched.
func (s *Store) InviteMember(ctx context.Context, orgID uuid.UUID, email string, role roles.Role) (*apiclient.Invitation, error) {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = roles.Member
	}
	if !role.IsAssignable() || role == roles.Owner {
		return nil, ErrInvalidRole
	}

	inv, err := s.api.CreateInvitation(ctx, orgID, email, role)
	if err != nil {
		s.recordErr(err)
		return nil, err
	}
	return inv, nil
}

// GetOrganizationMembers always reads from the server.
func (s *Store) GetOrganizationMembers(ctx context.Context, orgID uuid.UUID) ([]apiclient.Member, error) {
	members, err := s.api.ListMembers(ctx, orgID)
	if err != nil {
		s.recordErr(err)
		return nil, err
	}
	return members, nil
}

func (s *Store) recordErr(err error) {
	s.mu.Lock()
	s.state.Err = err
	s.mu.Unlock()
}
