//go:build !windows

package supervisor

import (
	"errors"
	"io"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// startPTY runs cmd on a pseudo-terminal so tools that only colour or
// flush interactively behave as in a shell. pty.Start puts the child in a
// new session, which is also its process group.
func startPTY(cmd *exec.Cmd) (io.ReadCloser, error) {
	return pty.Start(cmd)
}

// terminateTree sends SIGTERM to the process group (negative PID)
func terminateTree(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// killTree sends SIGKILL to the process group
func killTree(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		// Fall back to signaling just the process if group signal fails
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
	}
	return nil
}
