package agent

import (
	"context"
	"log/slog"
	"sync"
)

var (
	defaultOnce     sync.Once
	defaultLauncher *Launcher
)

// Default returns the process-wide launcher used by the package-level
// functions. It re-executes the current binary with default options and
// logs through slog.Default().
func Default() *Launcher {
	defaultOnce.Do(func() {
		defaultLauncher = NewLauncher(Config{Logger: slog.Default()})
	})
	return defaultLauncher
}

// PrepareExternalAgent starts an agent with the default launcher. It
// returns NoAgent if the agent could not be started; the cause is logged.
// Call it before opening any database in the calling process.
func PrepareExternalAgent() Handle {
	h, err := Default().Prepare(context.Background())
	if err != nil {
		Default().logger.Error("prepare external agent", "error", err)
		return NoAgent
	}
	return h
}

// ExternalAgentTransaction asks the agent behind h to try a transaction on
// the database at path. See Launcher.Transaction.
func ExternalAgentTransaction(h Handle, path string) (bool, error) {
	return Default().Transaction(context.Background(), h, path)
}

// CloseExternalAgent stops the agent behind h. See Launcher.Close.
func CloseExternalAgent(h Handle) error {
	return Default().Close(h)
}
