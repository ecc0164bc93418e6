package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/wire"
)

// End-to-end sessions between a central site and remote sites talking to
// its Hub in process.

func TestSync_RemoteReceivesGlobalAndOwnStoreData(t *testing.T) {
	ctx := context.Background()
	central := newTestSite(t, centralID)
	seedCentral(t, central)
	r1 := newTestSite(t, "r1")

	rec, err := r1.coordinator(t, central.hub()).RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateFinished, rec.State)

	for _, want := range []struct{ table, id string }{
		{"unit", "u-tab"}, {"store", "s1"}, {"store", "s2"}, {"location", "loc1"}, {"stock_line", "sl1"},
	} {
		_, ok := r1.get(t, want.table, want.id)
		assert.True(t, ok, "%s/%s should be on r1", want.table, want.id)
	}
	for _, absent := range []struct{ table, id string }{
		{"location", "loc2"}, {"stock_line", "sl2"},
	} {
		_, ok := r1.get(t, absent.table, absent.id)
		assert.False(t, ok, "%s/%s belongs to r2", absent.table, absent.id)
	}

	got, _ := r1.get(t, "stock_line", "sl1")
	want, _ := central.get(t, "stock_line", "sl1")
	assert.True(t, row.Equal(want, got), "replicated row must equal the source\nwant: %v\ngot:  %v", want, got)

	assert.Equal(t, int64(5), rec.Pull.Done)
	assert.Equal(t, int64(5), rec.Integration.Done)
	assert.Zero(t, rec.Integration.Failed)
	assert.NotNil(t, rec.Pull.FinishedAt)
	assert.NotNil(t, rec.Integration.FinishedAt)
	assert.NotNil(t, rec.Push.FinishedAt)
}

func TestSync_LocationAndStockLineArriveTogether(t *testing.T) {
	// The store row that makes s1 active on r1 arrives in the same session
	// as the location and stock line scoped to s1. Both must integrate
	// because scope is refreshed once the store table is done.
	ctx := context.Background()
	r1 := newTestSite(t, "r1")
	peer := &funcPeer{pull: pages(wire.PullResponse{
		Records: []wire.Record{
			wireRecord("item_line", "sl1", 3, map[string]any{
				"ID": "sl1", "store_ID": "s1", "location_ID": "loc1", "unit_ID": "", "quantity": 12,
			}),
			wireRecord("Location", "loc1", 2, map[string]any{"ID": "loc1", "store_ID": "s1", "Description": "Cold room"}),
			wireRecord("store", "s1", 1, map[string]any{"ID": "s1", "name": "North", "site": "r1"}),
		},
		MaxCursor: 3,
	})}

	rec, err := r1.coordinator(t, peer).RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Integration.Done)
	assert.Zero(t, rec.Integration.Failed)

	loc, ok := r1.get(t, "location", "loc1")
	require.True(t, ok)
	assert.Equal(t, row.String("Cold room"), loc["name"])
	sl, ok := r1.get(t, "stock_line", "sl1")
	require.True(t, ok)
	assert.Equal(t, row.Null{}, sl["unit_id"])

	scope, err := r1.st.StoreScopeOf(ctx, "stock_line", "sl1")
	require.NoError(t, err)
	assert.Equal(t, "s1", scope)
}

func TestSync_LoopPrevention(t *testing.T) {
	ctx := context.Background()
	central := newTestSite(t, centralID)
	seedCentral(t, central)
	r1 := newTestSite(t, "r1")
	hub := central.hub()
	peer := &funcPeer{pull: hub.Pull, push: hub.Push}

	_, err := r1.coordinator(t, peer).RunSession(ctx)
	require.NoError(t, err)

	// Everything on r1 was written by the integrator; nothing goes back.
	assert.Empty(t, peer.pushed())
	entries, err := r1.st.ChangesSince(ctx, store.ChangeQuery{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.True(t, e.SyncOriginated)
	}
	assert.Equal(t, r1.head(t), r1.cursor(t, store.PushCursorKey(DefaultPeerName)))

	stats, err := central.st.BufferStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestSync_RemoteChangeReachesCentralButNotBack(t *testing.T) {
	ctx := context.Background()
	central := newTestSite(t, centralID)
	seedCentral(t, central)
	r1 := newTestSite(t, "r1")
	r2 := newTestSite(t, "r2")
	hub := central.hub()

	c1 := r1.coordinator(t, hub)
	_, err := c1.RunSession(ctx)
	require.NoError(t, err)

	r1.upsert(t, "stock_line", map[string]any{
		"id": "sl9", "store_id": "s1", "location_id": "loc1", "unit_id": "u-tab", "quantity": 3,
	})
	r1.upsert(t, "stock_note", map[string]any{"id": "n1", "stock_line_id": "sl9", "text": "recount"})

	rec, err := c1.RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Push.Total)
	assert.Equal(t, int64(2), rec.Push.Done)
	assert.Zero(t, rec.Push.Failed)

	// Central integrates what r1 pushed.
	crec, err := central.coordinator(t, nil).RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateFinished, crec.State)
	assert.Equal(t, int64(2), crec.Integration.Done)
	_, ok := central.get(t, "stock_note", "n1")
	require.True(t, ok)

	entries, err := central.st.ChangesSince(ctx, store.ChangeQuery{Table: "stock_note"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].OriginSite)
	assert.Equal(t, "s1", entries[0].StoreScope)

	// r1 does not get its own change echoed back.
	rec, err = c1.RunSession(ctx)
	require.NoError(t, err)
	assert.Zero(t, rec.Pull.Done)

	// r2 does not own s1 and never sees it.
	_, err = r2.coordinator(t, hub).RunSession(ctx)
	require.NoError(t, err)
	_, ok = r2.get(t, "stock_line", "sl9")
	assert.False(t, ok)
	_, ok = r2.get(t, "stock_line", "sl2")
	assert.True(t, ok)
}

func TestSync_DeletePropagates(t *testing.T) {
	ctx := context.Background()
	central := newTestSite(t, centralID)
	seedCentral(t, central)
	r1 := newTestSite(t, "r1")
	c1 := r1.coordinator(t, central.hub())

	_, err := c1.RunSession(ctx)
	require.NoError(t, err)
	_, ok := r1.get(t, "stock_line", "sl1")
	require.True(t, ok)

	_, err = central.w.Delete(ctx, "stock_line", "sl1")
	require.NoError(t, err)

	rec, err := c1.RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Integration.Done)
	_, ok = r1.get(t, "stock_line", "sl1")
	assert.False(t, ok)
}

func TestSync_DuplicatePageDeliveryConverges(t *testing.T) {
	ctx := context.Background()
	page := wire.PullResponse{
		Records: []wire.Record{
			wireRecord("store", "s1", 1, map[string]any{"ID": "s1", "name": "North", "site": "r1"}),
			wireRecord("location", "loc1", 2, map[string]any{"ID": "loc1", "store_ID": "s1", "Description": "A"}),
		},
		MaxCursor: 2,
	}

	once := newTestSite(t, "r1")
	_, err := once.coordinator(t, &funcPeer{pull: pages(page)}).RunSession(ctx)
	require.NoError(t, err)

	// The peer ignores the cursor and delivers the same page every time.
	twice := newTestSite(t, "r1")
	c := twice.coordinator(t, &funcPeer{pull: pages(page)})
	_, err = c.RunSession(ctx)
	require.NoError(t, err)
	head := twice.head(t)
	rec, err := c.RunSession(ctx)
	require.NoError(t, err)

	assert.Zero(t, rec.Integration.Total, "redelivered records are not staged again")
	assert.Equal(t, head, twice.head(t), "no further repository writes")
	for _, id := range []string{"s1"} {
		a, _ := once.get(t, "store", id)
		b, _ := twice.get(t, "store", id)
		assert.True(t, row.Equal(a, b))
	}
	a, _ := once.get(t, "location", "loc1")
	b, _ := twice.get(t, "location", "loc1")
	assert.True(t, row.Equal(a, b))
}

func TestSync_ReintegrationWritesNothing(t *testing.T) {
	ctx := context.Background()
	central := newTestSite(t, centralID)
	seedCentral(t, central)
	r1 := newTestSite(t, "r1")
	_, err := r1.coordinator(t, central.hub()).RunSession(ctx)
	require.NoError(t, err)
	head := r1.head(t)

	// Run the integrator again over a buffer whose records are all integrated.
	sess := newSession(r1.st, r1.clock, discardLogger(), "manual", "r1", DefaultPeerName, RoleRemote)
	require.NoError(t, r1.st.CreateSession(ctx, sess.Record))
	sess.Active, err = LoadActiveStores(ctx, r1.st, "r1")
	require.NoError(t, err)
	require.NoError(t, NewIntegrator(r1.st, r1.reg, 0, discardLogger()).Integrate(ctx, sess))

	assert.Zero(t, sess.Record.Integration.Done)
	assert.Equal(t, head, r1.head(t))

	// Re-staging the same records under their original sequences is ignored.
	all, err := r1.st.AllBufferRecords(ctx)
	require.NoError(t, err)
	var again []wire.Record
	for _, b := range all {
		again = append(again, wire.Record{
			TableName: b.TableName, RecordID: b.RecordID, Action: b.Action, Data: b.Payload, Sequence: b.PeerSequence,
		})
	}
	inserted, err := r1.st.StagePage(ctx, DefaultPeerName, again, "", 0)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestSync_SameContentAtNewSequenceIsNoop(t *testing.T) {
	ctx := context.Background()
	r1 := newTestSite(t, "r1")
	first := wire.PullResponse{
		Records:   []wire.Record{wireRecord("unit", "u1", 1, map[string]any{"ID": "u1", "units": "box"})},
		MaxCursor: 1,
	}
	second := wire.PullResponse{
		Records:   []wire.Record{wireRecord("unit", "u1", 5, map[string]any{"ID": "u1", "units": "box"})},
		MaxCursor: 5,
	}
	c := r1.coordinator(t, &funcPeer{pull: pages(first, second)})

	_, err := c.RunSession(ctx)
	require.NoError(t, err)
	head := r1.head(t)

	rec, err := c.RunSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Integration.Done)
	assert.Equal(t, head, r1.head(t), "identical content appends no changelog entry")
}
