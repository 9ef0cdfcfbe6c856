package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateOneTimeToken_PrefixAndHash(t *testing.T) {
	token, hash, err := GenerateOneTimeToken(PurposeMagicLink)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "cdm_"))
	require.Equal(t, HashOneTimeToken(token), hash)
	require.Len(t, hash, 32)
	require.True(t, ValidOneTimeTokenFormat(PurposeMagicLink, token))
}

func TestGenerateOneTimeToken_Unique(t *testing.T) {
	a, _, err := GenerateOneTimeToken(PurposePasswordReset)
	require.NoError(t, err)
	b, _, err := GenerateOneTimeToken(PurposePasswordReset)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestValidOneTimeTokenFormat_RejectsCrossPurpose(t *testing.T) {
	token, _, err := GenerateOneTimeToken(PurposeEmailVerification)
	require.NoError(t, err)

	require.False(t, ValidOneTimeTokenFormat(PurposeMagicLink, token))
	require.False(t, ValidOneTimeTokenFormat(PurposeEmailVerification, "cdv_short"))
	require.False(t, ValidOneTimeTokenFormat(PurposeEmailVerification, ""))
}

func TestGenerateOneTimeToken_UnknownPurpose(t *testing.T) {
	_, _, err := GenerateOneTimeToken(Purpose("session"))
	require.Error(t, err)
}

func TestPurposeTTL(t *testing.T) {
	require.Equal(t, 15*time.Minute, PurposeMagicLink.TTL())
	require.Equal(t, time.Hour, PurposePasswordReset.TTL())
	require.Equal(t, 24*time.Hour, PurposeEmailVerification.TTL())
}
