package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Driver names as registered with database/sql.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// JournalWAL is the journal mode for databases the harness creates.
const JournalWAL = "WAL"

// Config controls how a database is opened.
type Config struct {
	// Driver selects the SQLite implementation. Empty means DriverMattn.
	Driver string

	// BusyTimeout is how long a contended lock is waited for before the
	// engine reports SQLITE_BUSY. Zero fails immediately.
	BusyTimeout time.Duration

	// JournalMode is applied with PRAGMA journal_mode. The mode persists in
	// the file. Empty leaves the database's mode unchanged.
	JournalMode string

	// MustExist makes Open fail instead of creating a missing database.
	MustExist bool
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DriverMattn
	}
	return c.Driver
}

// ValidDriver reports whether name is a supported driver. Empty is valid and
// selects the default.
func ValidDriver(name string) bool {
	switch name {
	case "", DriverMattn, DriverModernc:
		return true
	}
	return false
}

// Store is one open handle on a database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path, creating it unless cfg.MustExist is set.
func Open(path string, cfg Config) (*Store, error) {
	if !ValidDriver(cfg.Driver) {
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	name, err := dsn(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := sql.Open(cfg.driver(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite takes locks per connection; a single connection keeps the
	// transaction and its pragmas on the same one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// dsn builds a file: URI for the absolute path, so the path is escaped and
// both drivers hand it to SQLite whole. The driver parameters in the query
// are read by the drivers and ignored by SQLite.
func dsn(path string, cfg Config) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	ms := strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10)
	q := url.Values{}
	q.Set("_txlock", "immediate")
	if cfg.driver() == DriverModernc {
		q.Set("_pragma", "busy_timeout("+ms+")")
	} else {
		q.Set("_busy_timeout", ms)
	}
	if cfg.MustExist {
		q.Set("mode", "rw")
	}

	u := url.URL{Scheme: "file", Path: abs, RawQuery: q.Encode()}
	return u.String(), nil
}

// applyPragmas sets the journal configuration.
func applyPragmas(db *sql.DB, cfg Config) error {
	pragmas := []string{"PRAGMA synchronous = NORMAL"}
	if cfg.JournalMode != "" {
		pragmas = append([]string{"PRAGMA journal_mode = " + cfg.JournalMode}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database. Any open transaction is rolled back by the
// engine.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Count returns the number of rows written by committed attempts. A
// database that has never been written returns 0.
func (s *Store) Count(ctx context.Context) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'probe_writes'",
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("count writes: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM probe_writes").Scan(&count); err != nil {
		return 0, fmt.Errorf("count writes: %w", err)
	}
	return count, nil
}

// IsBusy reports whether err is the engine refusing a lock held by another
// connection (SQLITE_BUSY or SQLITE_LOCKED) from either driver.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.Code == sqlite3.ErrBusy || mattnErr.Code == sqlite3.ErrLocked
	}

	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		primary := sqlite3.ErrNo(moderncErr.Code() & 0xff)
		return primary == sqlite3.ErrBusy || primary == sqlite3.ErrLocked
	}

	return false
}
