package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	m, err := NewManager([]byte("short"), time.Hour)
	require.NoError(t, err)

	raw, exp, err := m.Issue(Identity{UserID: "42", Email: "a@x.com", Role: RoleAdmin})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, err := m.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "42", id.UserID)
	require.Equal(t, "a@x.com", id.Email)
	require.True(t, id.IsAdmin())
}

func TestParseRejectsExpired(t *testing.T) {
	m, err := NewManager([]byte("secret"), time.Minute)
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	raw, _, err := m.Issue(Identity{UserID: "1", Role: RoleUser})
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = m.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestParseRejectsForeignKey(t *testing.T) {
	a, err := NewManager([]byte("secret-a"), time.Hour)
	require.NoError(t, err)
	b, err := NewManager([]byte("secret-b"), time.Hour)
	require.NoError(t, err)

	raw, _, err := a.Issue(Identity{UserID: "1"})
	require.NoError(t, err)

	_, err = b.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidSession)

	_, err = a.Parse("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	require.Error(t, err)
}
