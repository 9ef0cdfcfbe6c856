package apiclient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilePersister_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinicctl", "session.yaml")
	p := FilePersister{Path: path}

	st, err := p.Load()
	require.NoError(t, err)
	require.Equal(t, IdentityState{}, st)

	id, err := NewIdentity(p)
	require.NoError(t, err)
	require.NoError(t, id.SetToken("tok"))
	require.NoError(t, id.SetOrganizationID("org-1"))
	require.NoError(t, id.SetRedirect("docs list"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := NewIdentity(p)
	require.NoError(t, err)
	require.Equal(t, "tok", reloaded.Token())
	require.Equal(t, "org-1", reloaded.OrganizationID())

	redirect, err := reloaded.TakeRedirect()
	require.NoError(t, err)
	require.Equal(t, "docs list", redirect)
	require.Empty(t, reloaded.RedirectTo())
}

func TestFilePersister_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unclosed"), 0o600))

	_, err := NewIdentity(FilePersister{Path: path})
	require.Error(t, err)
}

func TestIdentity_GenerationTracksTokenAndOrg(t *testing.T) {
	id, err := NewIdentity(nil)
	require.NoError(t, err)

	g0 := id.Generation()
	require.NoError(t, id.SetRedirect("/documents"))
	require.Equal(t, g0, id.Generation())

	require.NoError(t, id.SetToken("tok"))
	g1 := id.Generation()
	require.Greater(t, g1, g0)

	tg := id.TokenGeneration()
	require.NoError(t, id.SetOrganizationID("org"))
	g2 := id.Generation()
	require.Greater(t, g2, g1)
	require.Equal(t, tg, id.TokenGeneration())

	// Re-selecting the same organization is not a change.
	require.NoError(t, id.SetOrganizationID("org"))
	require.Equal(t, g2, id.Generation())

	require.NoError(t, id.ClearToken())
	require.Greater(t, id.TokenGeneration(), tg)
	require.Empty(t, id.Token())
	require.Equal(t, "org", id.OrganizationID())
}
