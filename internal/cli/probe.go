package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockprobe/internal/agent"
	"github.com/roach88/lockprobe/internal/store"
)

// ProbeOptions holds flags for the probe command.
type ProbeOptions struct {
	*RootOptions
	Database    string
	Driver      string
	Policy      string
	BusyTimeout time.Duration
	NoWrite     bool
	Hold        bool
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Database string `json:"database"`
	Acquired bool   `json:"acquired"`
	Held     bool   `json:"held,omitempty"`
}

func (r ProbeResult) String() string {
	verdict := "acquired"
	if !r.Acquired {
		verdict = "not acquired"
	}
	if r.Held {
		return fmt.Sprintf("%s: %s (while held by lockprobe)", r.Database, verdict)
	}
	return fmt.Sprintf("%s: %s", r.Database, verdict)
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProbeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Try one write transaction from an agent process",
		Long: `Start an agent process and have it try one write transaction on a
database.

With --hold, lockprobe first opens its own write transaction on the
database, so a correctly locking engine must report "not acquired".

Exit codes:
  0 - The agent's transaction committed
  1 - The agent's transaction failed
  2 - Command error or agent fault

Examples:
  lockprobe probe --db ./app.db
  lockprobe probe --db ./app.db --hold
  lockprobe probe --db ./app.db --driver sqlite --policy blocking --busy-timeout 5s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Driver, "driver", store.DriverMattn, "agent SQLite driver (sqlite3|sqlite)")
	cmd.Flags().StringVar(&opts.Policy, "policy", string(agent.PolicyNonBlocking), "lock policy (nonblocking|blocking)")
	cmd.Flags().DurationVar(&opts.BusyTimeout, "busy-timeout", 0, "bound on a blocking wait (default 1h)")
	cmd.Flags().BoolVar(&opts.NoWrite, "no-write", false, "commit an empty transaction")
	cmd.Flags().BoolVar(&opts.Hold, "hold", false, "hold a write transaction while probing")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runProbe(ctx context.Context, opts *ProbeOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	agentOpts := agent.Options{
		Driver:      opts.Driver,
		Policy:      agent.Policy(opts.Policy),
		BusyTimeout: opts.BusyTimeout,
		SkipWrite:   opts.NoWrite,
	}
	if opts.Verbose {
		agentOpts.LogLevel = slog.LevelDebug
	}
	if err := agentOpts.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}

	launcher := agent.NewLauncher(agent.Config{
		Args:    agentArgs,
		Options: agentOpts,
		Stderr:  cmd.ErrOrStderr(),
		Logger:  logger,
	})
	defer launcher.Shutdown()

	// The agent starts before this process opens the database.
	h, err := launcher.Prepare(ctx)
	if err != nil {
		formatter.Error(string(agent.CodeLaunch), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to prepare agent", err)
	}

	if opts.Hold {
		release, err := hold(ctx, opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to hold database", err)
		}
		defer release()
	}

	ok, err := launcher.Transaction(ctx, h, opts.Database)
	if err != nil {
		code := "FAULT"
		var fe *agent.FaultError
		if errors.As(err, &fe) {
			code = string(fe.Code)
		}
		formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "agent fault", err)
	}

	result := ProbeResult{Database: opts.Database, Acquired: ok, Held: opts.Hold}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !ok {
		return NewExitError(ExitFailure, "transaction not acquired")
	}
	return nil
}

// hold opens a write transaction on path and returns a func that rolls it
// back and closes the database.
func hold(ctx context.Context, path string) (func(), error) {
	s, err := store.Open(path, store.Config{})
	if err != nil {
		return nil, err
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := tx.Write(ctx, "lockprobe"); err != nil {
		tx.Rollback()
		s.Close()
		return nil, err
	}
	return func() {
		tx.Rollback()
		s.Close()
	}, nil
}
