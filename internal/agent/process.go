package agent

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// channelFD is the descriptor the agent finds its end of the channel on:
// the first entry of exec.Cmd.ExtraFiles.
const channelFD = 3

type spawnSpec struct {
	path   string
	args   []string
	env    []string
	stderr io.Writer
}

// spawn creates the channel and starts the agent process. It returns the
// driver's end as a net.Conn. On error nothing is left open or running.
func spawn(spec spawnSpec) (net.Conn, *exec.Cmd, error) {
	fds, err := socketpair()
	if err != nil {
		return nil, nil, fmt.Errorf("creating socketpair: %w", err)
	}

	agentFile := os.NewFile(uintptr(fds[0]), "agent-channel")
	driverFile := os.NewFile(uintptr(fds[1]), "driver-channel")

	// FileConn dups the fd, so ours is closed either way.
	driverConn, err := net.FileConn(driverFile)
	driverFile.Close()
	if err != nil {
		agentFile.Close()
		return nil, nil, fmt.Errorf("converting driver socket to net.Conn: %w", err)
	}

	cmd := exec.Command(spec.path, spec.args...)
	cmd.Env = spec.env
	cmd.ExtraFiles = []*os.File{agentFile}
	cmd.Stderr = spec.stderr

	if err := cmd.Start(); err != nil {
		driverConn.Close()
		agentFile.Close()
		return nil, nil, fmt.Errorf("starting agent %q: %w", spec.path, err)
	}

	// The child has its own copy. Keeping ours open would hide the
	// child's death from reads on driverConn.
	agentFile.Close()

	return driverConn, cmd, nil
}

// socketpair returns a connected AF_UNIX stream pair with close-on-exec
// set, so neither end leaks into unrelated children started concurrently.
func socketpair() ([2]int, error) {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return fds, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return fds, nil
}

// InheritedChannel returns the channel the launcher passed on fd 3.
func InheritedChannel() (net.Conn, error) {
	f := os.NewFile(uintptr(channelFD), "agent-channel")
	if f == nil {
		return nil, fmt.Errorf("fd %d not available (the agent must be started by a launcher)", channelFD)
	}
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("opening channel on fd %d: %w", channelFD, err)
	}
	return conn, nil
}
