package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"changelog", "records", "sync_buffer", "cursors", "sync_sessions", "session_lease"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}
