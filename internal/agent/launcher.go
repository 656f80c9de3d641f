package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/lockprobe/internal/protocol"
)

// Launcher defaults.
const (
	DefaultReadyTimeout = 10 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// Config configures a Launcher. The zero value re-executes the current
// binary with default options.
type Config struct {
	// Path is the agent executable. Empty means os.Executable().
	Path string

	// Args are passed to the agent executable.
	Args []string

	// Env is appended to the launcher's environment for the agent.
	Env []string

	// Options configure the agent runtime.
	Options Options

	// ReadyTimeout bounds the wait for the Ready frame.
	ReadyTimeout time.Duration

	// StopTimeout bounds the wait for an agent to exit after its channel
	// is closed, before it is killed.
	StopTimeout time.Duration

	// Stderr receives the agent's stderr. Nil means os.Stderr.
	Stderr io.Writer

	// Logger receives launcher events. Nil discards them.
	Logger *slog.Logger
}

// Launcher starts agent processes and runs the command protocol with them.
// It is safe for concurrent use; calls on one handle are serialized.
type Launcher struct {
	cfg      Config
	logger   *slog.Logger
	registry *registry
}

// NewLauncher creates a launcher with cfg.
func NewLauncher(cfg Config) *Launcher {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Launcher{
		cfg:      cfg,
		logger:   logger.With("component", "launcher"),
		registry: newRegistry(),
	}
}

// process is the launcher's view of one agent process.
type process struct {
	handle  Handle
	session string
	cmd     *exec.Cmd
	conn    net.Conn
	proto   *protocol.Conn

	// mu serializes exchanges: at most one Command is outstanding.
	mu sync.Mutex

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

func newProcess(conn net.Conn, cmd *exec.Cmd, session string) *process {
	p := &process{
		handle:  NoAgent,
		session: session,
		cmd:     cmd,
		conn:    conn,
		proto:   protocol.NewConn(conn),
		exited:  make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

// terminate closes the channel, which the agent reads as end-of-stream,
// and waits up to grace for it to exit before killing it. The process is
// always reaped before terminate returns.
func (p *process) terminate(grace time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		p.conn.Close()

		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-p.exited:
		case <-timer.C:
			p.cmd.Process.Kill()
			<-p.exited
			err = fmt.Errorf("agent pid %d did not exit within %s; killed", p.pid(), grace)
			return
		}
		if p.waitErr != nil {
			err = fmt.Errorf("agent pid %d: %w", p.pid(), p.waitErr)
		}
	})
	return err
}

// exitStatus describes how the agent exited, if it has.
func (p *process) exitStatus() string {
	select {
	case <-p.exited:
		if p.waitErr != nil {
			return p.waitErr.Error()
		}
		return "exited"
	default:
		return "running"
	}
}

// Prepare starts an agent and returns its handle once the agent reports
// ready. On failure it returns NoAgent and a *FaultError with CodeLaunch;
// nothing started by the failed call is left open or running.
func (l *Launcher) Prepare(ctx context.Context) (Handle, error) {
	if err := l.cfg.Options.Validate(); err != nil {
		return NoAgent, launchFault("invalid options", err)
	}

	path := l.cfg.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return NoAgent, launchFault("locating executable", err)
		}
		path = exe
	}

	id, err := uuid.NewV7()
	if err != nil {
		return NoAgent, launchFault("generating session id", err)
	}
	session := id.String()

	env := append(os.Environ(), l.cfg.Env...)
	env = append(env, l.cfg.Options.Environ(session)...)

	conn, cmd, err := spawn(spawnSpec{
		path:   path,
		args:   l.cfg.Args,
		env:    env,
		stderr: l.cfg.Stderr,
	})
	if err != nil {
		return NoAgent, launchFault("spawning agent", err)
	}

	p := newProcess(conn, cmd, session)
	if err := l.awaitReady(ctx, p); err != nil {
		// Kill at once; an agent that never got ready has nothing to flush.
		if termErr := p.terminate(0); termErr != nil {
			l.logger.Debug("reaped failed agent", "pid", p.pid(), "error", termErr)
		}
		return NoAgent, launchFault(fmt.Sprintf("agent pid %d not ready (%s)", p.pid(), p.exitStatus()), err)
	}

	h := l.registry.add(p)
	l.logger.Info("agent ready", "handle", h, "pid", p.pid(), "session", session)
	return h, nil
}

// awaitReady reads the Ready frame within the ready timeout and checks it
// came from the process just started.
func (l *Launcher) awaitReady(ctx context.Context, p *process) error {
	if err := p.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadyTimeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		p.conn.SetReadDeadline(time.Now())
	})
	ready, err := p.proto.ReadReady()
	cancelled := !stop()
	if cancelled && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("reading ready frame: %w", err)
	}
	if ready.Session != p.session {
		return fmt.Errorf("%w: ready frame for session %q, expected %q",
			protocol.ErrMalformed, ready.Session, p.session)
	}
	if ready.PID != p.pid() {
		return fmt.Errorf("%w: ready frame from pid %d, expected %d",
			protocol.ErrMalformed, ready.PID, p.pid())
	}
	return p.conn.SetReadDeadline(time.Time{})
}

// Transaction asks the agent behind h to attempt a transaction on the
// database at path, and blocks until the attempt concludes.
//
// It returns (true, nil) if the agent began and committed a transaction and
// (false, nil) if the attempt failed inside the database. Any other failure
// is a *FaultError: an invalid handle, a refused command, or a channel
// failure. A channel failure, including cancellation of ctx while waiting,
// invalidates h and tears the agent down.
//
// A relative path is resolved against the caller's working directory at the
// time of the call, not the agent's.
func (l *Launcher) Transaction(ctx context.Context, h Handle, path string) (bool, error) {
	p, ok := l.registry.get(h)
	if !ok {
		return false, invalidHandle(h)
	}

	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return false, &FaultError{
				Code:    CodeRejected,
				Handle:  h,
				Message: fmt.Sprintf("resolving %q", path),
				Err:     fmt.Errorf("%w: %w", ErrRejected, err),
			}
		}
		path = abs
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Close may have won the race for the handle while we waited.
	if _, ok := l.registry.get(h); !ok {
		return false, invalidHandle(h)
	}

	// Cancellation is coarse: it destroys the channel, not the command.
	stop := context.AfterFunc(ctx, func() { p.conn.Close() })
	resp, err := p.proto.Exchange(protocol.NewTransaction(path))
	if !stop() {
		l.discard(p)
		return false, channelFault(h, "cancelled", errors.Join(ctx.Err(), err))
	}
	if err != nil {
		l.discard(p)
		return false, channelFault(h, fmt.Sprintf("exchange failed (agent %s)", p.exitStatus()), err)
	}

	if resp.Status == protocol.StatusFault {
		return false, &FaultError{
			Code:    CodeRejected,
			Handle:  h,
			Message: resp.Reason,
			Err:     ErrRejected,
		}
	}

	l.logger.Debug("transaction attempt", "handle", h, "db", path, "ok", resp.Acquired(), "reason", resp.Reason)
	return resp.Acquired(), nil
}

// discard invalidates the handle of a broken agent and reaps it.
func (l *Launcher) discard(p *process) {
	l.registry.remove(p.handle)
	if err := p.terminate(0); err != nil {
		l.logger.Debug("discarded agent", "handle", p.handle, "pid", p.pid(), "error", err)
	}
	l.logger.Warn("agent discarded after channel fault", "handle", p.handle, "pid", p.pid())
}

// Close invalidates h and stops its agent. The agent is given the stop
// timeout to exit on end-of-stream and is killed otherwise. Closing an
// invalid handle is a fault.
func (l *Launcher) Close(h Handle) error {
	p, ok := l.registry.remove(h)
	if !ok {
		return invalidHandle(h)
	}
	err := p.terminate(l.cfg.StopTimeout)
	l.logger.Info("agent closed", "handle", h, "pid", p.pid(), "error", err)
	return err
}

// Shutdown closes every live agent of this launcher.
func (l *Launcher) Shutdown() error {
	var errs []error
	for _, p := range l.registry.drain() {
		if err := p.terminate(l.cfg.StopTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handles returns the live handles of this launcher in order.
func (l *Launcher) Handles() []Handle {
	return l.registry.handles()
}

// PID returns the process id of the agent behind h.
func (l *Launcher) PID(h Handle) (int, error) {
	p, ok := l.registry.get(h)
	if !ok {
		return 0, invalidHandle(h)
	}
	return p.pid(), nil
}
