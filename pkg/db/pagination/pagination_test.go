package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestPageTrimsLookAheadRow(t *testing.T) {
	rows := []*row{{"5"}, {"4"}, {"3"}}

	out, info := Page(rows, 2, func(r *row) string { return IDCursor(r.id) })
	require.Len(t, out, 2)
	require.True(t, info.HasMore)

	c, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "4", c.ID)
}

func TestPageLastPage(t *testing.T) {
	out, info := Page([]*row{{"1"}}, 10, func(r *row) string { return IDCursor(r.id) })
	require.Len(t, out, 1)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}
