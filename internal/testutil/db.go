package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lockprobe/internal/store"
)

// EmptyDB creates an empty database file in a fresh temporary directory and
// returns its path.
func EmptyDB(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

// OpenStore opens path with the default driver and closes it at cleanup.
func OpenStore(t testing.TB, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path, store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// RowCount returns the number of committed probe rows in path.
func RowCount(t testing.TB, path string) int {
	t.Helper()
	s, err := store.Open(path, store.Config{})
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	return n
}
