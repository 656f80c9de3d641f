package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDB(t *testing.T) {
	path := EmptyDB(t, "probe.db")

	assert.Equal(t, "probe.db", filepath.Base(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestRowCount(t *testing.T) {
	path := EmptyDB(t, "probe.db")
	assert.Equal(t, 0, RowCount(t, path))

	s := OpenStore(t, path)
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write(ctx, "test"))
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, RowCount(t, path))
}
