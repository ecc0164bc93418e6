package store

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/wire"
)

// testClock is a settable wall clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// createTestStore creates a new store in a temp dir.
func createTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func upsertRecord(table, id string, seq int64, data map[string]any) wire.Record {
	raw, _ := json.Marshal(data)
	return wire.Record{TableName: table, RecordID: id, Action: wire.ActionUpsert, Data: raw, Sequence: seq}
}
