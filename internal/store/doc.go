// Package store opens SQLite databases for transaction attempts.
//
// It is the adapter between the lock probe and the database engine under
// test. The engine, not this package, provides cross-process mutual
// exclusion; the store only exposes the primitives a probe needs: open,
// begin, write, commit and rollback.
//
// # Drivers
//
// Two SQLite implementations are supported and may be mixed across
// processes on the same file:
//
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo, default)
//   - "sqlite":  modernc.org/sqlite (pure Go)
//
// # Database Configuration
//
//   - Transactions begin IMMEDIATE: the write lock is taken at BEGIN, so a
//     contended begin fails (or waits) before any statement runs.
//   - busy_timeout comes from Config.BusyTimeout. Zero means a contended
//     lock is reported at once as SQLITE_BUSY.
//   - journal_mode is left as the file has it unless Config.JournalMode is
//     set; synchronous=NORMAL.
//   - Databases are opened as file: URIs. Config.MustExist adds mode=rw, so
//     a missing file is an open failure rather than a new empty database.
//   - One open connection per Store, so pragmas and the transaction share a
//     connection.
package store
