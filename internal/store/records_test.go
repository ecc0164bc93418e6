package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/wire"
)

func location(id, name, store string) row.Row {
	return row.Row{
		"id":       row.String(id),
		"name":     row.String(name),
		"store_id": row.String(store),
		"on_hold":  row.Bool(false),
	}
}

func TestUpsert_WritesRowAndChangelog(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, "location", location("loc-1", "Shelf A", "s1"), Provenance{OriginSite: "site-a", StoreScope: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(1), res.Sequence)

	got, err := s.Get(ctx, "location", "loc-1")
	require.NoError(t, err)
	assert.True(t, row.Equal(location("loc-1", "Shelf A", "s1"), got))

	entries, err := s.ChangesSince(ctx, ChangeQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ChangeLogEntry{
		Sequence:   1,
		TableName:  "location",
		RecordID:   "loc-1",
		Action:     wire.ActionUpsert,
		StoreScope: "s1",
		OriginSite: "site-a",
		CreatedAt:  entries[0].CreatedAt,
	}, entries[0])
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestUpsert_IdenticalRowIsNoop(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	p := Provenance{StoreScope: "s1"}

	_, err := s.Upsert(ctx, "location", location("loc-1", "Shelf A", "s1"), p)
	require.NoError(t, err)
	res, err := s.Upsert(ctx, "location", location("loc-1", "Shelf A", "s1"), p)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	seq, err := s.MaxSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "no second changelog entry")

	res, err = s.Upsert(ctx, "location", location("loc-1", "Shelf B", "s1"), p)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(2), res.Sequence)
}

func TestUpsert_SyncOriginatedProvenance(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "unit", row.Row{"id": row.String("u1"), "name": row.String("tab")},
		Provenance{SyncOriginated: true, OriginSite: "central"})
	require.NoError(t, err)

	entries, err := s.ChangesSince(ctx, ChangeQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].SyncOriginated)
	assert.Equal(t, "", entries[0].StoreScope, "global")
}

func TestUpsert_RequiresID(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.Upsert(context.Background(), "unit", row.Row{"name": row.String("x")}, Provenance{})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	res, err := s.Delete(ctx, "location", "loc-1", Provenance{})
	require.NoError(t, err)
	assert.False(t, res.Changed, "absent row")

	_, err = s.Upsert(ctx, "location", location("loc-1", "Shelf A", "s1"), Provenance{StoreScope: "s1"})
	require.NoError(t, err)

	res, err = s.Delete(ctx, "location", "loc-1", Provenance{OriginSite: "site-a"})
	require.NoError(t, err)
	assert.True(t, res.Changed)

	exists, err := s.Exists(ctx, "location", "loc-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, "location", "loc-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	entries, err := s.ChangesSince(ctx, ChangeQuery{After: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, wire.ActionDelete, entries[0].Action)
	assert.Equal(t, "s1", entries[0].StoreScope, "delete keeps the row's scope")

	res, err = s.Delete(ctx, "location", "loc-1", Provenance{})
	require.NoError(t, err)
	assert.False(t, res.Changed, "second delete is a no-op")
}

func TestList_OrderedByID(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Upsert(ctx, "unit", row.Row{"id": row.String(id)}, Provenance{})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, "item", row.Row{"id": row.String("z")}, Provenance{})
	require.NoError(t, err)

	rows, err := s.List(ctx, "unit")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].ID())
	assert.Equal(t, "b", rows[1].ID())
	assert.Equal(t, "c", rows[2].ID())
}

func TestStoreScopeOf(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "invoice", row.Row{"id": row.String("inv")}, Provenance{StoreScope: "s9"})
	require.NoError(t, err)

	scope, err := s.StoreScopeOf(ctx, "invoice", "inv")
	require.NoError(t, err)
	assert.Equal(t, "s9", scope)

	_, err = s.StoreScopeOf(ctx, "invoice", "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestChangesSince_FiltersAndLimits(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for i, table := range []string{"unit", "item", "unit", "item", "unit"} {
		_, err := s.Upsert(ctx, table, row.Row{"id": row.String(string(rune('a' + i)))}, Provenance{})
		require.NoError(t, err)
	}

	entries, err := s.ChangesSince(ctx, ChangeQuery{After: 1, Table: "unit"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].Sequence)
	assert.Equal(t, int64(5), entries[1].Sequence)

	entries, err = s.ChangesSince(ctx, ChangeQuery{After: 0, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Sequence)

	n, err := s.CountChangesSince(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMaxSequence_Empty(t *testing.T) {
	s, _ := createTestStore(t)
	seq, err := s.MaxSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}
