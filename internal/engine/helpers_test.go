package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/notify"
	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/testutil"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/wire"
)

const centralID = "central"

// testRegistry is a small registry covering every scope rule:
// unit (global), store (site membership), location and stock_line (scoped
// by store_id) and stock_note (scoped via its stock line).
func testRegistry() *translate.Registry {
	return translate.NewRegistry().MustRegister(
		translate.MustNew(translate.Mapping{
			Table: "unit",
			Wire:  []string{"unit"},
			Fields: []translate.Field{
				{Column: "id", Wire: "ID", Kind: translate.KindString},
				{Column: "name", Wire: "units", Kind: translate.KindString},
			},
		}),
		translate.MustNew(translate.Mapping{
			Table: translate.StoreTable,
			Wire:  []string{"store"},
			Fields: []translate.Field{
				{Column: "id", Wire: "ID", Kind: translate.KindString},
				{Column: "name", Wire: "name", Kind: translate.KindString},
				{Column: translate.SiteColumn, Wire: "site", Kind: translate.KindString},
			},
		}),
		translate.MustNew(translate.Mapping{
			Table:        "location",
			Wire:         []string{"location", "Location"},
			Dependencies: []string{translate.StoreTable},
			Scope:        translate.ScopeRule{Column: "store_id"},
			Fields: []translate.Field{
				{Column: "id", Wire: "ID", Kind: translate.KindString},
				{Column: "store_id", Wire: "store_ID", Kind: translate.KindString, Ref: translate.StoreTable},
				{Column: "name", Wire: "Description", Kind: translate.KindString},
			},
		}),
		translate.MustNew(translate.Mapping{
			Table:        "stock_line",
			Wire:         []string{"item_line"},
			Dependencies: []string{translate.StoreTable, "location", "unit"},
			Scope:        translate.ScopeRule{Column: "store_id"},
			Fields: []translate.Field{
				{Column: "id", Wire: "ID", Kind: translate.KindString},
				{Column: "store_id", Wire: "store_ID", Kind: translate.KindString, Ref: translate.StoreTable},
				{Column: "location_id", Wire: "location_ID", Kind: translate.KindString, Optional: true, Ref: "location"},
				{Column: "unit_id", Wire: "unit_ID", Kind: translate.KindString, Optional: true, Ref: "unit"},
				{Column: "quantity", Wire: "quantity", Kind: translate.KindInt},
			},
		}),
		translate.MustNew(translate.Mapping{
			Table:        "stock_note",
			Wire:         []string{"stock_note"},
			Dependencies: []string{"stock_line"},
			Scope:        translate.ScopeRule{Column: "stock_line_id", Via: "stock_line"},
			Fields: []translate.Field{
				{Column: "id", Wire: "ID", Kind: translate.KindString},
				{Column: "stock_line_id", Wire: "item_line_ID", Kind: translate.KindString, Ref: "stock_line"},
				{Column: "text", Wire: "note", Kind: translate.KindString},
			},
		}),
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSite is one site's database with a writer for its application changes.
type testSite struct {
	id    string
	st    *store.Store
	reg   *translate.Registry
	w     *Writer
	clock *testutil.DeterministicClock
}

func newTestSite(t *testing.T, id string) *testSite {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.Epoch)
	st, err := store.Open(filepath.Join(t.TempDir(), id+".db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reg := testRegistry()
	return &testSite{id: id, st: st, reg: reg, w: NewWriter(st, reg, id), clock: clock}
}

func (s *testSite) coordinator(t *testing.T, peer Peer, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	role := RoleRemote
	if peer == nil {
		role = RoleCentral
	}
	return s.coordinatorWith(t, peer, Config{SiteID: s.id, Role: role, PageSize: 2}, opts...)
}

func (s *testSite) coordinatorWith(t *testing.T, peer Peer, cfg Config, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	base := []CoordinatorOption{
		WithLogger(discardLogger()),
		WithClock(s.clock),
		WithIDGenerator(testutil.NewSequentialIDGenerator(s.id)),
	}
	c, err := NewCoordinator(s.st, s.reg, peer, cfg, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func (s *testSite) hub() *Hub {
	return NewHub(s.st, s.reg, s.id, WithHubLogger(discardLogger()))
}

func (s *testSite) upsert(t *testing.T, table string, cols map[string]any) {
	t.Helper()
	r, err := row.FromMap(cols)
	require.NoError(t, err)
	_, err = s.w.Upsert(context.Background(), table, r)
	require.NoError(t, err)
}

func (s *testSite) get(t *testing.T, table, id string) (row.Row, bool) {
	t.Helper()
	ok, err := s.st.Exists(context.Background(), table, id)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	r, err := s.st.Get(context.Background(), table, id)
	require.NoError(t, err)
	return r, true
}

func (s *testSite) head(t *testing.T) int64 {
	t.Helper()
	seq, err := s.st.MaxSequence(context.Background())
	require.NoError(t, err)
	return seq
}

func (s *testSite) cursor(t *testing.T, key string) int64 {
	t.Helper()
	v, err := s.st.Cursor(context.Background(), key)
	require.NoError(t, err)
	return v
}

// seedCentral writes two stores (one per remote site), a global unit and
// per-store locations and stock.
func seedCentral(t *testing.T, c *testSite) {
	t.Helper()
	c.upsert(t, "unit", map[string]any{"id": "u-tab", "name": "tablet"})
	c.upsert(t, "store", map[string]any{"id": "s1", "name": "North", "site_id": "r1"})
	c.upsert(t, "store", map[string]any{"id": "s2", "name": "South", "site_id": "r2"})
	c.upsert(t, "location", map[string]any{"id": "loc1", "store_id": "s1", "name": "Shelf A"})
	c.upsert(t, "location", map[string]any{"id": "loc2", "store_id": "s2", "name": "Shelf B"})
	c.upsert(t, "stock_line", map[string]any{
		"id": "sl1", "store_id": "s1", "location_id": "loc1", "unit_id": "u-tab", "quantity": 40,
	})
	c.upsert(t, "stock_line", map[string]any{
		"id": "sl2", "store_id": "s2", "location_id": "loc2", "unit_id": nil, "quantity": 7,
	})
}

func wireRecord(table, id string, seq int64, data map[string]any) wire.Record {
	raw, _ := json.Marshal(data)
	return wire.Record{TableName: table, RecordID: id, Action: wire.ActionUpsert, Data: raw, Sequence: seq}
}

// funcPeer is a Peer whose behaviour each test scripts.
type funcPeer struct {
	pull func(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error)
	push func(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error)

	mu     sync.Mutex
	pulls  []wire.PullRequest
	pushes []wire.PushRequest
}

func (p *funcPeer) Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error) {
	p.mu.Lock()
	p.pulls = append(p.pulls, req)
	p.mu.Unlock()
	if p.pull == nil {
		return wire.PullResponse{MaxCursor: req.Cursor}, nil
	}
	return p.pull(ctx, req)
}

func (p *funcPeer) Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	p.mu.Lock()
	p.pushes = append(p.pushes, req)
	p.mu.Unlock()
	if p.push == nil {
		var resp wire.PushResponse
		for _, r := range req.Records {
			resp.AcceptedCursor = max(resp.AcceptedCursor, r.Sequence)
		}
		return resp, nil
	}
	return p.push(ctx, req)
}

func (p *funcPeer) pushed() []wire.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wire.Record
	for _, req := range p.pushes {
		out = append(out, req.Records...)
	}
	return out
}

// pages serves fixed pages in order regardless of cursor; the last page is
// served again once the rest are used up.
func pages(resps ...wire.PullResponse) func(context.Context, wire.PullRequest) (wire.PullResponse, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(context.Context, wire.PullRequest) (wire.PullResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		resp := resps[min(i, len(resps)-1)]
		i++
		return resp, nil
	}
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) all() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

var fastRetries = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
