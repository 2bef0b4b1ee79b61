package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		class string
		want  ID
	}{
		{ClassFilm, Film},
		{ClassSeries, Series},
		{ClassUnresolved, Unresolved},
	}
	for _, tc := range testCases {
		got, err := ForClassification(tc.class)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := ForClassification("Q1")
	require.Error(t, err)
}

func TestEntryFromRow(t *testing.T) {
	t.Parallel()

	e, err := EntryFromRow([]string{"umc.cmc.1", "Name", "film", "https://x", ClassFilm})
	require.NoError(t, err)
	require.Equal(t, Entry{ID: "umc.cmc.1", Name: "Name", Description: "film", URL: "https://x", Classification: ClassFilm}, e)
	require.Equal(t, []string{"umc.cmc.1", "Name", "film", "https://x", ClassFilm}, e.Row())

	_, err = EntryFromRow([]string{"a", "b"})
	require.Error(t, err)
	_, err = EntryFromRow([]string{"", "b", "c", "d", "e"})
	require.Error(t, err)
}

func TestIsHeader(t *testing.T) {
	t.Parallel()

	require.True(t, IsHeader(Columns))
	require.False(t, IsHeader([]string{"umc.cmc.1"}))
	require.False(t, IsHeader(nil))
}

func TestPlaceholder(t *testing.T) {
	t.Parallel()

	p := Placeholder("umc.cmc.9", "https://tv.apple.com/us/movie/umc.cmc.9")
	require.Empty(t, p.Name)
	require.Empty(t, p.Description)
	require.Equal(t, ClassUnresolved, p.Classification)
	id, err := ForClassification(p.Classification)
	require.NoError(t, err)
	require.Equal(t, Unresolved, id)
}

func TestMalformedRowErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("bad quote")
	err := error(&MalformedRowError{Catalog: Film, Line: 3, Err: inner})
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "catalog 4453 line 3")

	var target *MalformedRowError
	require.ErrorAs(t, err, &target)
	require.Equal(t, 3, target.Line)
}

func TestPartialWriteErrorNamesReplaced(t *testing.T) {
	t.Parallel()

	inner := errors.New("rename failed")
	err := error(&PartialWriteError{Catalog: Series, Replaced: []ID{Unresolved, Film}, Err: inner})
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "replace catalog 0000")
	require.Contains(t, err.Error(), "[404 4453]")
}

func TestTablesIDsOrder(t *testing.T) {
	t.Parallel()

	tables := Tables{"zz": nil, Series: nil, "aa": nil, Unresolved: nil}
	require.Equal(t, []ID{Unresolved, Series, "aa", "zz"}, tables.IDs())
}
