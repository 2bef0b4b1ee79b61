package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "db", "catalog.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	store := openTemp(t)
	tables, err := store.Load(context.Background())
	require.NoError(t, err)
	for _, id := range catalog.All() {
		require.NotNil(t, tables[id])
		require.Empty(t, tables[id])
	}
}

func TestWriteReplacesAndLoadsSorted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTemp(t)

	require.NoError(t, store.Write(ctx, catalog.Tables{
		catalog.Film: {{ID: "umc.cmc.old", Name: "Old", Description: "film", URL: "u", Classification: catalog.ClassFilm}},
	}))
	require.NoError(t, store.Write(ctx, catalog.Tables{
		catalog.Series: {
			{ID: "umc.cmc.s2", Name: "S2", Description: "television series", URL: "u2", Classification: catalog.ClassSeries},
			{ID: "umc.cmc.s1", Name: "S1", Description: "television series", URL: "u1", Classification: catalog.ClassSeries},
		},
		catalog.Unresolved: {catalog.Placeholder("umc.cmc.x", "ux")},
	}))

	tables, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, tables[catalog.Film])
	require.Len(t, tables[catalog.Series], 2)
	require.Equal(t, "umc.cmc.s1", tables[catalog.Series][0].ID)
	require.Equal(t, catalog.Placeholder("umc.cmc.x", "ux"), tables[catalog.Unresolved][0])
}

func TestWriteDuplicateIdentityRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTemp(t)
	keep := catalog.Entry{ID: "umc.cmc.k", Name: "K", Description: "film", URL: "u", Classification: catalog.ClassFilm}
	require.NoError(t, store.Write(ctx, catalog.Tables{catalog.Film: {keep}}))

	err := store.Write(ctx, catalog.Tables{
		catalog.Film: {{ID: "umc.cmc.d", Classification: catalog.ClassFilm}, {ID: "umc.cmc.d", Classification: catalog.ClassFilm}},
	})
	require.Error(t, err)

	tables, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []catalog.Entry{keep}, tables[catalog.Film])
}
