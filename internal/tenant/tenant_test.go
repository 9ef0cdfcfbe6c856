package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/aliuyar1234/clinicdocs/internal/orgs"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	role roles.Role
	err  error
}

func (f fakeResolver) GetUserOrgRole(context.Context, uuid.UUID, uuid.UUID) (roles.Role, error) {
	return f.role, f.err
}

func serve(t *testing.T, resolver RoleResolver, userID uuid.UUID, header string, policy guard.Policy) (*httptest.ResponseRecorder, Org) {
	t.Helper()

	var got Org
	h := Middleware(resolver)(guard.Require(policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	if header != "" {
		req.Header.Set(Header, header)
	}
	ctx := req.Context()
	if userID != uuid.Nil {
		ctx = context.WithValue(ctx, auth.UserIDContextKey, userID)
		ctx = guard.WithSubject(ctx, guard.Subject{Authenticated: true, GlobalRole: roles.Member})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec, got
}

func TestMiddleware_ResolvesMembership(t *testing.T) {
	orgID := uuid.New()
	rec, got := serve(t, fakeResolver{role: roles.Admin}, uuid.New(), orgID.String(), guard.Permission(roles.ViewAnalytics))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, orgID, got.ID)
	require.Equal(t, roles.Admin, got.Role)
}

func TestMiddleware_OrgRoleOverridesGlobalRole(t *testing.T) {
	rec, _ := serve(t, fakeResolver{role: roles.Member}, uuid.New(), uuid.NewString(), guard.Permission(roles.ViewAnalytics))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resolver fakeResolver
		userID   uuid.UUID
		header   string
		wantCode int
	}{
		{name: "anonymous", userID: uuid.Nil, header: uuid.NewString(), wantCode: http.StatusUnauthorized},
		{name: "missing header", userID: uuid.New(), wantCode: http.StatusBadRequest},
		{name: "malformed header", userID: uuid.New(), header: "acme", wantCode: http.StatusBadRequest},
		{name: "not a member", resolver: fakeResolver{err: orgs.ErrNotMember}, userID: uuid.New(), header: uuid.NewString(), wantCode: http.StatusNotFound},
		{name: "lookup failure", resolver: fakeResolver{err: errors.New("db down")}, userID: uuid.New(), header: uuid.NewString(), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(t, tt.resolver, tt.userID, tt.header, guard.Always())
			require.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
