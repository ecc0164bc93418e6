package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	id := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestUUIDv7Generator_Uniqueness(t *testing.T) {
	gen := UUIDv7Generator{}
	const iterations = 1000

	seen := make(map[string]bool, iterations)
	for i := 0; i < iterations; i++ {
		id := gen.Generate()
		require.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
}

func TestCoordinator_DefaultSessionIDsAreUUIDv7(t *testing.T) {
	s := newTestSite(t, centralID)
	c, err := NewCoordinator(s.st, s.reg, nil, Config{SiteID: centralID, Role: RoleCentral},
		WithLogger(discardLogger()), WithClock(s.clock))
	require.NoError(t, err)

	rec, err := c.RunSession(context.Background())
	require.NoError(t, err)

	parsed, err := uuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
