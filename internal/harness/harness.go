package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/roach88/lockprobe/internal/agent"
	"github.com/roach88/lockprobe/internal/store"
)

// Config configures scenario execution.
type Config struct {
	// Dir is the working directory databases are created in. Empty means a
	// fresh temporary directory, removed afterwards.
	Dir string

	// Launcher is the template for the agent launcher. Its Options are
	// replaced by the scenario's agent spec.
	Launcher agent.Config

	// Logger receives step events. Nil discards them.
	Logger *slog.Logger
}

// clock numbers trace events. The first call to next returns 1.
type clock struct {
	seq atomic.Int64
}

func (c *clock) next() int64 {
	return c.seq.Add(1)
}

// Harness executes one scenario.
type Harness struct {
	dir      string
	launcher *agent.Launcher
	handle   agent.Handle
	stores   map[string]*store.Store
	txs      map[string]*store.Tx
	clock    clock
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Expectation and assertion failures are recorded in the result. An error
// is returned only when the scenario could not be executed: the agent could
// not be started, or a driver-side database operation failed.
func Run(ctx context.Context, scenario *Scenario, cfg Config) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	opts, err := scenario.Agent.Options()
	if err != nil {
		return nil, fmt.Errorf("agent options: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("scenario", scenario.Name)

	dir := cfg.Dir
	if dir == "" {
		dir, err = os.MkdirTemp("", "lockprobe-")
		if err != nil {
			return nil, fmt.Errorf("failed to create working directory: %w", err)
		}
		defer os.RemoveAll(dir)
	}

	launcherCfg := cfg.Launcher
	launcherCfg.Options = opts
	if launcherCfg.Logger == nil {
		launcherCfg.Logger = logger
	}
	launcher := agent.NewLauncher(launcherCfg)
	defer launcher.Shutdown()

	h := &Harness{
		dir:      dir,
		launcher: launcher,
		handle:   agent.NoAgent,
		stores:   make(map[string]*store.Store),
		txs:      make(map[string]*store.Tx),
		logger:   logger,
	}
	defer h.release()

	h.handle, err = launcher.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare agent: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	// Driver transactions left open end before assertions read the files.
	h.release()

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, dir) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) path(db string) string {
	return filepath.Join(h.dir, db)
}

// executeStep runs one step and records its trace event.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	kind, db := step.Kind()
	seq := h.clock.next()
	h.logger.Debug("step", "index", i, "kind", kind, "db", db)

	switch kind {
	case StepCreate:
		if err := createDB(h.path(db)); err != nil {
			return fmt.Errorf("create %s: %w", db, err)
		}
		result.AddTrace(seq, kind, db, OutcomeDone)

	case StepBegin:
		if _, open := h.txs[db]; open {
			return fmt.Errorf("begin %s: driver transaction already open", db)
		}
		s, err := h.driverStore(db)
		if err != nil {
			return err
		}
		tx, err := s.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin %s: %w", db, err)
		}
		h.txs[db] = tx
		result.AddTrace(seq, kind, db, OutcomeDone)

	case StepWrite, StepCommit, StepRollback:
		tx, open := h.txs[db]
		if !open {
			return fmt.Errorf("%s %s: no driver transaction open", kind, db)
		}
		var err error
		switch kind {
		case StepWrite:
			err = tx.Write(ctx, "driver")
		case StepCommit:
			err = tx.Commit()
			delete(h.txs, db)
		case StepRollback:
			err = tx.Rollback()
			delete(h.txs, db)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", kind, db, err)
		}
		result.AddTrace(seq, kind, db, OutcomeDone)

	case StepAgent:
		ok, err := h.launcher.Transaction(ctx, h.handle, h.path(db))
		if err != nil {
			result.AddTrace(seq, kind, db, outcomeOf(err))
			result.AddError(fmt.Sprintf("step %d: agent %s: expected %t, got fault: %v", i, db, *step.Expect, err))
			return nil
		}
		result.AddTrace(seq, kind, db, fmt.Sprint(ok))
		if ok != *step.Expect {
			result.AddError(fmt.Sprintf("step %d: agent %s: expected %t, got %t", i, db, *step.Expect, ok))
		}

	case StepFault:
		ok, err := h.launcher.Transaction(ctx, h.handle, h.path(db))
		if err == nil {
			result.AddTrace(seq, kind, db, fmt.Sprint(ok))
			result.AddError(fmt.Sprintf("step %d: fault %s: expected a fault, got %t", i, db, ok))
			return nil
		}
		result.AddTrace(seq, kind, db, outcomeOf(err))
		if !agent.IsFault(err) {
			result.AddError(fmt.Sprintf("step %d: fault %s: unexpected error: %v", i, db, err))
		}

	case StepClose:
		if err := h.launcher.Close(h.handle); err != nil {
			result.AddTrace(seq, kind, "", outcomeOf(err))
			result.AddError(fmt.Sprintf("step %d: close: %v", i, err))
			return nil
		}
		result.AddTrace(seq, kind, "", OutcomeClosed)

	default:
		return fmt.Errorf("invalid step")
	}

	return nil
}

func outcomeOf(err error) string {
	if agent.IsFault(err) {
		return OutcomeFault
	}
	return OutcomeError
}

// createDB creates an empty database in WAL mode.
func createDB(path string) error {
	s, err := store.Open(path, store.Config{JournalMode: store.JournalWAL})
	if err != nil {
		return err
	}
	return s.Close()
}

// driverStore returns the driver's connection to db, opening it on first use.
func (h *Harness) driverStore(db string) (*store.Store, error) {
	if s, ok := h.stores[db]; ok {
		return s, nil
	}
	s, err := store.Open(h.path(db), store.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", db, err)
	}
	h.stores[db] = s
	return s, nil
}

// release rolls back open driver transactions and closes driver stores.
func (h *Harness) release() {
	var errs []error
	for db, tx := range h.txs {
		errs = append(errs, tx.Rollback())
		delete(h.txs, db)
	}
	for db, s := range h.stores {
		errs = append(errs, s.Close())
		delete(h.stores, db)
	}
	if err := errors.Join(errs...); err != nil {
		h.logger.Warn("releasing driver databases", "error", err)
	}
}
