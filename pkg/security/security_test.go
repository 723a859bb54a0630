package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgon2RoundTrip(t *testing.T) {
	hash, err := HashArgon2("s3cret-pass")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	ok, err := VerifyArgon2(hash, "s3cret-pass")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyArgon2(hash, "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	other, err := HashArgon2("s3cret-pass")
	require.NoError(t, err)
	require.NotEqual(t, hash, other)
}

func TestVerifyArgon2RejectsGarbage(t *testing.T) {
	_, err := VerifyArgon2("plain", "x")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func TestGenerateBase64Secret(t *testing.T) {
	a, err := GenerateBase64Secret(32)
	require.NoError(t, err)
	b, err := GenerateBase64Secret(32)
	require.NoError(t, err)
	require.Len(t, a, 43)
	require.NotEqual(t, a, b)
}
