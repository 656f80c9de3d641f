package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, Config{})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, path, s.Path())
}

func journalMode(t *testing.T, s *Store) string {
	t.Helper()
	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	return strings.ToLower(mode)
}

func TestOpen_AppliesJournalMode(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			s := createTestStore(t, Config{Driver: driver, JournalMode: JournalWAL})
			assert.Equal(t, "wal", journalMode(t, s))
		})
	}
}

func TestOpen_LeavesJournalModeUnset(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			s := createTestStore(t, Config{Driver: driver})
			assert.Equal(t, "delete", journalMode(t, s))
		})
	}
}

func TestAttempt_KeepsJournalMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "t.db")

	s, err := Open(path, Config{})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, "delete", journalMode(t, s))

	for _, driver := range []string{DriverMattn, DriverModernc} {
		opts := AttemptOptions{Config: Config{Driver: driver, MustExist: true}, Write: true, Writer: "agent"}
		require.NoError(t, Attempt(ctx, path, opts))
	}
	assert.Equal(t, "delete", journalMode(t, s))
}

func TestAttempt_RollbackJournalExcluded(t *testing.T) {
	ctx := context.Background()
	holder := createTestStore(t, Config{})
	require.Equal(t, "delete", journalMode(t, holder))

	tx, err := holder.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write(ctx, "driver"))

	err = Attempt(ctx, holder.Path(), AttemptOptions{Config: Config{MustExist: true}, Write: true})
	require.Error(t, err)
	assert.True(t, IsBusy(err), "expected busy error at begin, got %v", err)
	assert.Contains(t, err.Error(), "begin")

	require.NoError(t, tx.Rollback())
}

func TestOpen_BusyTimeoutFromConfig(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			s := createTestStore(t, Config{Driver: driver, BusyTimeout: 1500 * time.Millisecond})

			var timeout int
			require.NoError(t, s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
			assert.Equal(t, 1500, timeout)
		})
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db", Config{})
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"), Config{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestValidDriver(t *testing.T) {
	assert.True(t, ValidDriver(""))
	assert.True(t, ValidDriver(DriverMattn))
	assert.True(t, ValidDriver(DriverModernc))
	assert.False(t, ValidDriver("mysql"))
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		cfg  Config
		want string
	}{
		{
			name: "default",
			path: "/data/t.db",
			want: "file:///data/t.db?_busy_timeout=0&_txlock=immediate",
		},
		{
			name: "modernc",
			path: "/data/t.db",
			cfg:  Config{Driver: DriverModernc, BusyTimeout: 250 * time.Millisecond},
			want: "file:///data/t.db?_pragma=busy_timeout%28250%29&_txlock=immediate",
		},
		{
			name: "must exist",
			path: "/data/t.db",
			cfg:  Config{MustExist: true},
			want: "file:///data/t.db?_busy_timeout=0&_txlock=immediate&mode=rw",
		},
		{
			name: "reserved characters",
			path: "/data/a?b#c%d e.db",
			want: "file:///data/a%3Fb%23c%25d%20e.db?_busy_timeout=0&_txlock=immediate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dsn(tt.path, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDSN_RelativePathIsAbsolute(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	got, err := dsn("t.db", Config{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "file://"+filepath.ToSlash(wd)+"/t.db?"), got)
}

func TestOpen_PathWithReservedCharacters(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			path := filepath.Join(dir, "odd?name#1.db")

			require.NoError(t, Attempt(ctx, path, AttemptOptions{Config: Config{Driver: driver}, Write: true}))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "odd?name#1.db", entries[0].Name())

			s, err := Open(path, Config{Driver: driver, MustExist: true})
			require.NoError(t, err)
			defer s.Close()
			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestOpen_MustExist(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.db")

			_, err := Open(path, Config{Driver: driver, MustExist: true})
			require.Error(t, err)

			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "missing database was created")

			err = Attempt(context.Background(), path, AttemptOptions{Config: Config{Driver: driver, MustExist: true}, Write: true})
			require.Error(t, err)
			assert.False(t, IsBusy(err))
			_, statErr = os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "missing database was created")
		})
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestCount_EmptyDatabase(t *testing.T) {
	s := createTestStore(t, Config{})
	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTx_WriteCommit(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Config{})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write(ctx, "driver"))
	require.NoError(t, tx.Write(ctx, "driver"))
	require.NoError(t, tx.Commit())

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Rollback after commit is a no-op.
	assert.NoError(t, tx.Rollback())
}

func TestTx_RollbackDiscardsWrite(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Config{})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Write(ctx, "driver"))
	require.NoError(t, tx.Rollback())

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAttempt_FreshDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "t.db")

	require.NoError(t, Attempt(ctx, path, AttemptOptions{Write: true, Writer: "agent"}))
	require.NoError(t, Attempt(ctx, path, AttemptOptions{Write: true, Writer: "agent"}))
	require.NoError(t, Attempt(ctx, path, AttemptOptions{}))

	s, err := Open(path, Config{})
	require.NoError(t, err)
	defer s.Close()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAttempt_ExcludedByOpenTransaction(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := Config{Driver: driver}
			holder := createTestStore(t, cfg)

			tx, err := holder.Begin(ctx)
			require.NoError(t, err)
			require.NoError(t, tx.Write(ctx, "driver"))

			err = Attempt(ctx, holder.Path(), AttemptOptions{Config: cfg, Write: true, Writer: "agent"})
			require.Error(t, err)
			assert.True(t, IsBusy(err), "expected busy error, got %v", err)

			require.NoError(t, tx.Commit())

			require.NoError(t, Attempt(ctx, holder.Path(), AttemptOptions{Config: cfg, Write: true, Writer: "agent"}))

			count, err := holder.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestAttempt_BlockingWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	holder := createTestStore(t, Config{})

	tx, err := holder.Begin(ctx)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(released)
		tx.Rollback()
	}()

	err = Attempt(ctx, holder.Path(), AttemptOptions{
		Config: Config{BusyTimeout: 30 * time.Second},
		Write:  true,
		Writer: "agent",
	})
	require.NoError(t, err)

	select {
	case <-released:
	default:
		t.Fatal("attempt returned before the lock was released")
	}
}

func TestAttempt_OpenFailure(t *testing.T) {
	err := Attempt(context.Background(), "/nonexistent/dir/t.db", AttemptOptions{})
	require.Error(t, err)
	assert.False(t, IsBusy(err))
}

func TestIsBusy_Unrelated(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(errors.New("database is locked")))
}
