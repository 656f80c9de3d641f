package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/lockprobe/internal/protocol"
	"github.com/roach88/lockprobe/internal/store"
)

// State is the agent runtime's position in its receive loop.
type State int

const (
	StateStarting State = iota
	StateReady
	StateHandling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateHandling:
		return "handling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsAgentProcess reports whether this process was started by a launcher to
// run the agent runtime.
func IsAgentProcess() bool {
	return os.Getenv(EnvAgent) == "1"
}

// Main runs the agent runtime with the inherited channel and environment
// and returns the process exit code. It is meant for TestMain and main:
//
//	if agent.IsAgentProcess() {
//	    os.Exit(agent.Main())
//	}
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, nil); err != nil {
		fmt.Fprintf(os.Stderr, "lockprobe agent: %v\n", err)
		return 1
	}
	return 0
}

// Run reads options from the environment and serves the channel on fd 3
// until the driver closes it. A nil logger logs text to stderr at the level
// from the environment.
func Run(ctx context.Context, logger *slog.Logger) error {
	opts, session, err := OptionsFromEnv(os.Getenv)
	if err != nil {
		return fmt.Errorf("reading options: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: opts.LogLevel,
		}))
	}
	logger = logger.With("component", "agent", "pid", os.Getpid())

	conn, err := InheritedChannel()
	if err != nil {
		return err
	}
	defer conn.Close()

	// A signal cancels ctx; closing the channel unblocks the read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = Serve(ctx, conn, session, opts, logger)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Serve runs the receive loop on rw: it announces readiness, then answers
// each Command with exactly one Response until rw reaches end-of-stream,
// when it returns nil. Failed attempts never end the loop.
func Serve(ctx context.Context, rw io.ReadWriter, session string, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	rt := &runtime{
		conn:    protocol.NewConn(rw),
		opts:    opts,
		session: session,
		logger:  logger,
	}
	return rt.run(ctx)
}

type runtime struct {
	conn    *protocol.Conn
	opts    Options
	session string
	logger  *slog.Logger
	state   State
	served  int
}

func (rt *runtime) setState(s State) {
	rt.logger.Debug("agent state", "from", rt.state, "to", s)
	rt.state = s
}

func (rt *runtime) run(ctx context.Context) error {
	rt.setState(StateStarting)

	ready := protocol.NewReady(rt.session, os.Getpid(), rt.opts.driver())
	if err := rt.conn.WriteReady(ready); err != nil {
		rt.setState(StateStopped)
		return fmt.Errorf("announce ready: %w", err)
	}
	rt.setState(StateReady)
	rt.logger.Info("agent ready",
		"session", rt.session,
		"driver", rt.opts.driver(),
		"policy", rt.opts.policy(),
	)

	for {
		cmd, err := rt.conn.ReadCommand()
		if errors.Is(err, io.EOF) {
			rt.setState(StateStopped)
			rt.logger.Info("channel closed, agent stopping", "served", rt.served)
			return nil
		}
		if err != nil {
			rt.setState(StateStopped)
			return fmt.Errorf("read command: %w", err)
		}

		rt.setState(StateHandling)
		resp := rt.handle(ctx, cmd)
		rt.served++

		if err := rt.conn.WriteResponse(resp); err != nil {
			rt.setState(StateStopped)
			return fmt.Errorf("write response: %w", err)
		}
		rt.setState(StateReady)
	}
}

// handle turns one command into its response. Database errors become a
// false outcome; only an unusable command becomes a fault.
func (rt *runtime) handle(ctx context.Context, cmd protocol.Command) protocol.Response {
	if err := cmd.Validate(); err != nil {
		rt.logger.Warn("rejecting command", "error", err)
		return protocol.Fault(err.Error())
	}

	err := store.Attempt(ctx, cmd.Path, rt.opts.attemptOptions(rt.session))
	if err != nil {
		rt.logger.Debug("transaction attempt failed",
			"db", cmd.Path,
			"busy", store.IsBusy(err),
			"error", err,
		)
		return protocol.Outcome(false, err.Error())
	}

	rt.logger.Debug("transaction attempt succeeded", "db", cmd.Path)
	return protocol.Outcome(true, "")
}
