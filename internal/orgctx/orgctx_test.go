package orgctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	orgs       []apiclient.Organization
	listErr    error
	listCalls  int
	defaultErr error
	defaults   []uuid.UUID
	created    []apiclient.CreateOrganizationInput
	invites    []string
	members    []apiclient.Member

	// block, when set, is waited on inside ListOrganizations.
	block chan struct{}
}

func (f *fakeAPI) ListOrganizations(ctx context.Context) ([]apiclient.Organization, error) {
	f.mu.Lock()
	f.listCalls++
	orgs := append([]apiclient.Organization(nil), f.orgs...)
	err := f.listErr
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (f *fakeAPI) CreateOrganization(ctx context.Context, in apiclient.CreateOrganizationInput) (*apiclient.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	org := apiclient.Organization{ID: uuid.New(), Name: in.Name, Slug: in.Slug, Role: roles.Owner}
	f.orgs = append(f.orgs, org)
	return &org, nil
}

func (f *fakeAPI) SetDefaultOrganization(ctx context.Context, orgID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults = append(f.defaults, orgID)
	return f.defaultErr
}

func (f *fakeAPI) CreateInvitation(ctx context.Context, orgID uuid.UUID, email string, role roles.Role) (*apiclient.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, email+":"+string(role))
	return &apiclient.Invitation{ID: uuid.New(), OrganizationID: orgID, Email: email, Role: role, Status: "pending"}, nil
}

func (f *fakeAPI) ListMembers(ctx context.Context, orgID uuid.UUID) ([]apiclient.Member, error) {
	return f.members, nil
}

func org(name string, role roles.Role, isDefault bool) apiclient.Organization {
	return apiclient.Organization{ID: uuid.New(), Name: name, Slug: validation.Slugify(name), Role: role, IsDefault: isDefault}
}

func newStore(t *testing.T, api *fakeAPI) (*Store, *apiclient.Identity) {
	t.Helper()
	id, err := apiclient.NewIdentity(nil)
	require.NoError(t, err)
	return New(api, id), id
}

func TestRefresh_SelectsDefault(t *testing.T) {
	a, b := org("North", roles.Member, false), org("South", roles.Admin, true)
	s, id := newStore(t, &fakeAPI{orgs: []apiclient.Organization{a, b}})

	require.NoError(t, s.Refresh(context.Background()))

	st := s.Snapshot()
	require.Equal(t, StatusReady, st.Status)
	require.Len(t, st.Organizations, 2)
	require.Equal(t, b.ID, st.Active.ID)
	require.Equal(t, roles.Admin, st.ActiveRole())
	require.Equal(t, b.ID.String(), id.OrganizationID())
}

func TestRefresh_FallsBackToFirstThenNone(t *testing.T) {
	a, b := org("North", roles.Member, false), org("South", roles.Admin, false)
	api := &fakeAPI{orgs: []apiclient.Organization{a, b}}
	s, id := newStore(t, api)

	require.NoError(t, s.Refresh(context.Background()))
	require.Equal(t, a.ID, s.Snapshot().Active.ID)

	api.orgs = nil
	require.NoError(t, s.Refresh(context.Background()))
	st := s.Snapshot()
	require.Nil(t, st.Active)
	require.Empty(t, st.ActiveRole())
	require.Empty(t, id.OrganizationID())
}

func TestRefresh_ErrorKeepsPreviousList(t *testing.T) {
	a := org("North", roles.Owner, true)
	api := &fakeAPI{orgs: []apiclient.Organization{a}}
	s, _ := newStore(t, api)
	require.NoError(t, s.Refresh(context.Background()))

	api.listErr = errors.New("connection refused")
	require.Error(t, s.Refresh(context.Background()))

	st := s.Snapshot()
	require.Equal(t, StatusError, st.Status)
	require.EqualError(t, st.Err, "connection refused")
	require.Len(t, st.Organizations, 1)
	require.Equal(t, a.ID, st.Active.ID)
}

func TestRefresh_StaleResultDiscarded(t *testing.T) {
	a := org("North", roles.Owner, true)
	api := &fakeAPI{orgs: []apiclient.Organization{a}, block: make(chan struct{})}
	s, id := newStore(t, api)

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls == 1
	}, time.Second, time.Millisecond)

	// Signing out while the fetch is in flight wins.
	require.NoError(t, s.HandleSessionChange(context.Background(), false))
	close(api.block)
	require.NoError(t, <-done)

	st := s.Snapshot()
	require.Equal(t, StatusUninitialized, st.Status)
	require.Empty(t, st.Organizations)
	require.Empty(t, id.OrganizationID())
}

func TestSwitchOrganization(t *testing.T) {
	a, b := org("North", roles.Owner, true), org("South", roles.Member, false)
	api := &fakeAPI{orgs: []apiclient.Organization{a, b}}
	s, id := newStore(t, api)
	require.NoError(t, s.Refresh(context.Background()))

	require.NoError(t, s.SwitchOrganization(context.Background(), b.ID))

	st := s.Snapshot()
	require.Equal(t, b.ID, st.Active.ID)
	require.True(t, st.Active.IsDefault)
	require.False(t, st.Organizations[0].IsDefault)
	require.Equal(t, b.ID.String(), id.OrganizationID())
	require.Equal(t, []uuid.UUID{b.ID}, api.defaults)

	// Already default: nothing to persist.
	require.NoError(t, s.SwitchOrganization(context.Background(), b.ID))
	require.Len(t, api.defaults, 1)
}

func TestSwitchOrganization_UnknownLeavesStateUnchanged(t *testing.T) {
	a := org("North", roles.Owner, true)
	s, id := newStore(t, &fakeAPI{orgs: []apiclient.Organization{a}})
	require.NoError(t, s.Refresh(context.Background()))

	err := s.SwitchOrganization(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrOrganizationNotFound)
	require.Equal(t, a.ID, s.Snapshot().Active.ID)
	require.Equal(t, a.ID.String(), id.OrganizationID())
}

func TestSwitchOrganization_PersistFailureKeepsLocalSwitch(t *testing.T) {
	a, b := org("North", roles.Owner, true), org("South", roles.Member, false)
	api := &fakeAPI{orgs: []apiclient.Organization{a, b}, defaultErr: errors.New("server error")}
	s, id := newStore(t, api)
	require.NoError(t, s.Refresh(context.Background()))

	require.NoError(t, s.SwitchOrganization(context.Background(), b.ID))

	st := s.Snapshot()
	require.Equal(t, b.ID, st.Active.ID)
	require.False(t, st.Active.IsDefault)
	require.ErrorContains(t, st.Err, "server error")
	require.Equal(t, b.ID.String(), id.OrganizationID())
}

func TestCreateOrganization_ValidatesBeforeNetwork(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newStore(t, api)
	ctx := context.Background()

	_, err := s.CreateOrganization(ctx, CreateInput{Name: "  "})
	require.ErrorIs(t, err, ErrNameRequired)

	_, err = s.CreateOrganization(ctx, CreateInput{Name: "Clinic", Slug: "Bad Slug"})
	require.ErrorIs(t, err, validation.ErrInvalidSlug)

	_, err = s.CreateOrganization(ctx, CreateInput{Name: "Clinic", Type: "hospital"})
	require.ErrorIs(t, err, validation.ErrInvalidOrgType)

	_, err = s.CreateOrganization(ctx, CreateInput{Name: "!!!"})
	require.ErrorIs(t, err, validation.ErrSlugRequired)

	require.Empty(t, api.created)
	require.Zero(t, api.listCalls)
}

func TestCreateOrganization_RefetchesList(t *testing.T) {
	api := &fakeAPI{}
	s, id := newStore(t, api)

	created, err := s.CreateOrganization(context.Background(), CreateInput{Name: " North Clinic ", Type: "healthcare_facility"})
	require.NoError(t, err)
	require.Equal(t, "north-clinic", created.Slug)
	require.Equal(t, "North Clinic", api.created[0].Name)
	require.Equal(t, 1, api.listCalls)

	st := s.Snapshot()
	require.Len(t, st.Organizations, 1)
	require.Equal(t, created.ID, st.Active.ID)
	require.Equal(t, created.ID.String(), id.OrganizationID())
}

func TestInviteMember(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newStore(t, api)
	orgID := uuid.New()
	ctx := context.Background()

	_, err := s.InviteMember(ctx, orgID, "not-an-email", roles.Member)
	require.ErrorIs(t, err, validation.ErrInvalidEmail)

	_, err = s.InviteMember(ctx, orgID, "a@example.com", roles.Owner)
	require.ErrorIs(t, err, ErrInvalidRole)
	require.Empty(t, api.invites)

	inv, err := s.InviteMember(ctx, orgID, " Nurse@Example.com ", "")
	require.NoError(t, err)
	require.Equal(t, roles.Member, inv.Role)
	require.Equal(t, []string{"nurse@example.com:member"}, api.invites)
	require.Empty(t, s.Snapshot().Organizations)
}

func TestSnapshot_IsACopy(t *testing.T) {
	a := org("North", roles.Owner, true)
	s, _ := newStore(t, &fakeAPI{orgs: []apiclient.Organization{a}})
	require.NoError(t, s.Refresh(context.Background()))

	st := s.Snapshot()
	st.Organizations[0].Name = "changed"
	st.Active.Name = "changed"

	again := s.Snapshot()
	require.Equal(t, "North", again.Organizations[0].Name)
	require.Equal(t, "North", again.Active.Name)
}
