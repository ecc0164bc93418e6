package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_DefaultsToZero(t *testing.T) {
	s, _ := createTestStore(t)
	v, err := s.Cursor(context.Background(), PushCursorKey("central"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestSetCursor_NeverDecreases(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	key := PushCursorKey("central")

	for _, v := range []int64{5, 9, 3, 9, 12, 0} {
		require.NoError(t, s.SetCursor(ctx, key, v))
	}

	v, err := s.Cursor(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)
}

func TestCursors_ListsAll(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCursor(ctx, PullCursorKey("central"), 4))
	require.NoError(t, s.SetCursor(ctx, PushCursorKey("central"), 7))

	all, err := s.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"pull:central": 4, "push:central": 7}, all)
}
