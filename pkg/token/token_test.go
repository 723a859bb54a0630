package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var secret = []byte("unit-test-secret")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	codec, err := NewCodec(secret, WithClock(fixedClock(now)))
	require.NoError(t, err)

	tok, err := codec.Sign("RSFM-AAAA-BBBB-CCCC-DDDD", "  A@X.com ", time.Hour)
	require.NoError(t, err)
	require.NotContains(t, tok, "=")
	require.Equal(t, 1, strings.Count(tok, "."))

	claims, err := codec.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "RSFM-AAAA-BBBB-CCCC-DDDD", claims.LicenseKey)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt)
}

func TestDefaultTTLIs48Hours(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	codec, err := NewCodec(secret, WithClock(fixedClock(now)))
	require.NoError(t, err)

	tok, err := codec.Sign("K", "a@x.com", 0)
	require.NoError(t, err)

	claims, err := codec.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, now.Add(48*time.Hour).Unix(), claims.ExpiresAt)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	codec, err := NewCodec(secret, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	tok, err := codec.Sign("K", "a@x.com", time.Hour)
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	_, err = codec.Verify(tok)
	require.NoError(t, err, "still valid at the exact expiry second")

	clock = now.Add(time.Hour + time.Second)
	_, err = codec.Verify(tok)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsEverySingleBitFlipInSignature(t *testing.T) {
	codec, err := NewCodec(secret)
	require.NoError(t, err)

	tok, err := codec.Sign("K", "a@x.com", time.Hour)
	require.NoError(t, err)
	p, s, _ := strings.Cut(tok, ".")

	sig, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)

	for i := 0; i < len(sig)*8; i++ {
		mutated := append([]byte(nil), sig...)
		mutated[i/8] ^= 1 << (i % 8)
		_, err := codec.Verify(p + "." + base64.RawURLEncoding.EncodeToString(mutated))
		require.ErrorIs(t, err, ErrInvalidSignature, "bit %d", i)
	}
}

func TestVerifyRejectsNonCanonicalSignatureEncoding(t *testing.T) {
	codec, err := NewCodec(secret)
	require.NoError(t, err)

	tok, err := codec.Sign("K", "a@x.com", time.Hour)
	require.NoError(t, err)

	// 32 bytes encode to 43 chars; the low 2 bits of the last char are
	// padding and must be zero.
	last := tok[len(tok)-1]
	idx := strings.IndexByte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_", last)
	alt := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"[idx^1]
	_, err = codec.Verify(tok[:len(tok)-1] + string(alt))
	require.Error(t, err)
}

func TestVerifyMalformed(t *testing.T) {
	codec, err := NewCodec(secret)
	require.NoError(t, err)

	for _, tok := range []string{"", "abc", ".", "abc.", ".abc", "!!!.???", "e30.e30"} {
		_, err := codec.Verify(tok)
		require.Error(t, err, tok)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, err := NewCodec(secret)
	require.NoError(t, err)
	b, err := NewCodec([]byte("rotated"))
	require.NoError(t, err)

	tok, err := a.Sign("K", "a@x.com", time.Hour)
	require.NoError(t, err)

	_, err = b.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := NewCodec(nil)
	require.Error(t, err)
}
