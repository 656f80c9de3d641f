package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is an open IMMEDIATE transaction. While it is open the connection
// holds the database write lock.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction, taking the write lock. With a zero busy
// timeout a lock held by another process makes Begin fail at once.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Write performs the trivial write: it creates the probe table if needed
// and appends one row attributed to writer.
func (t *Tx) Write(ctx context.Context, writer string) error {
	if _, err := t.tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("write: apply schema: %w", err)
	}
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO probe_writes (writer, written_at) VALUES (?, ?)",
		writer, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Commit commits the transaction and releases the lock.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and releases the lock. Rolling back a
// finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// AttemptOptions configures a single transaction attempt.
type AttemptOptions struct {
	Config

	// Write makes the attempt insert a row before committing. Without it
	// the attempt only takes and releases the write lock.
	Write bool

	// Writer labels the inserted row.
	Writer string
}

// Attempt opens path, begins a transaction, optionally writes, commits and
// closes the database. It returns nil only if every step succeeded. The
// database is always closed before Attempt returns, so no lock outlives it.
func Attempt(ctx context.Context, path string, opts AttemptOptions) (err error) {
	s, err := Open(path, opts.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close: %w", closeErr)
		}
	}()

	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if opts.Write {
		if err := tx.Write(ctx, opts.Writer); err != nil {
			return err
		}
	}

	return tx.Commit()
}
