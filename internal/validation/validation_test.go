package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Org!! 2025":           "my-org-2025",
		"  Leading and trailing ": "leading-and-trailing",
		"Acme -- Health":          "acme-health",
		"St. Mary's Clinic":       "st-marys-clinic",
		"snake_case_name":         "snake-case-name",
		"!!!":                     "",
	}
	for in, want := range cases {
		require.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestSlugify_OutputValidates(t *testing.T) {
	for _, name := range []string{"My Org!! 2025", "Clinic_Nord 7", strings.Repeat("very long name ", 10)} {
		require.NoError(t, ValidateSlug(Slugify(name)), "name %q", name)
	}
}

func TestValidateSlug(t *testing.T) {
	require.NoError(t, ValidateSlug("a"))
	require.NoError(t, ValidateSlug("acme-health-2"))
	require.ErrorIs(t, ValidateSlug(""), ErrSlugRequired)
	require.ErrorIs(t, ValidateSlug("-acme"), ErrInvalidSlug)
	require.ErrorIs(t, ValidateSlug("acme--health"), ErrInvalidSlug)
	require.ErrorIs(t, ValidateSlug("Acme"), ErrInvalidSlug)
	require.ErrorIs(t, ValidateSlug(strings.Repeat("a", 65)), ErrSlugTooLong)
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  Nurse@Example.com ")
	require.NoError(t, err)
	require.Equal(t, "nurse@example.com", email)

	for _, bad := range []string{"", "no-at-sign", "Name <a@b.com>", "@"} {
		_, err := NormalizeEmail(bad)
		require.ErrorIs(t, err, ErrInvalidEmail, "input %q", bad)
	}
}

func TestValidateOrgType(t *testing.T) {
	require.NoError(t, ValidateOrgType(""))
	require.NoError(t, ValidateOrgType("healthcare_facility"))
	require.ErrorIs(t, ValidateOrgType("hospital"), ErrInvalidOrgType)
}
