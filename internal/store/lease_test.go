package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLease_ExclusiveUntilExpiry(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "site-a", "proc-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, "site-a", "proc-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held by proc-1")

	ok, err = s.AcquireLease(ctx, "site-a", "proc-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews")

	holder, err := s.LeaseHolder(ctx, "site-a")
	require.NoError(t, err)
	assert.Equal(t, "proc-1", holder)

	clock.Advance(2 * time.Minute)
	holder, err = s.LeaseHolder(ctx, "site-a")
	require.NoError(t, err)
	assert.Empty(t, holder)

	ok, err = s.AcquireLease(ctx, "site-a", "proc-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken")
}

func TestLease_Release(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "site-a", "proc-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "site-a", "proc-2"))
	holder, err := s.LeaseHolder(ctx, "site-a")
	require.NoError(t, err)
	assert.Equal(t, "proc-1", holder, "only the holder releases")

	require.NoError(t, s.ReleaseLease(ctx, "site-a", "proc-1"))
	ok, err = s.AcquireLease(ctx, "site-a", "proc-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
