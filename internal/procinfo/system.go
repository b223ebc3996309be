//go:build linux || darwin || windows || freebsd

package procinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// System inspects real processes through gopsutil
type System struct {
	logger *slog.Logger
}

// NewSystem creates a gopsutil-backed inspector
func NewSystem(logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{logger: logger.With("component", "procinfo")}
}

// ForPlatform returns the best Inspector for this OS
func ForPlatform(logger *slog.Logger) Inspector {
	return NewSystem(logger)
}

func (s *System) ListenerPID(ctx context.Context, port int) (int, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, fmt.Errorf("failed to list TCP connections: %w", err)
	}

	for _, conn := range conns {
		if conn.Status != "LISTEN" || int(conn.Laddr.Port) != port {
			continue
		}
		if conn.Pid <= 0 {
			// Socket owned by a process we may not inspect
			s.logger.Debug("Listener has no visible PID", "port", port, "local", conn.Laddr.IP)
			continue
		}
		return int(conn.Pid), nil
	}

	return 0, fmt.Errorf("%w %d", ErrNoListener, port)
}

func (s *System) Cmdline(ctx context.Context, pid int) (string, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	cmdline, err := proc.CmdlineWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read command line of %d: %w", pid, err)
	}

	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		return "", fmt.Errorf("empty command line for PID %d", pid)
	}
	return cmdline, nil
}

// Terminate force-kills the process tree rooted at pid, descendants first so
// none of them is re-parented and left behind.
func (s *System) Terminate(ctx context.Context, pid int) error {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	tree := descendants(ctx, root)

	var errs []error
	for i := len(tree) - 1; i >= 0; i-- {
		if err := kill(ctx, tree[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := kill(ctx, root); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to terminate process tree of %d: %w", pid, errors.Join(errs...))
	}
	s.logger.Debug("Terminated process tree", "pid", pid, "processes", len(tree)+1)
	return nil
}

// descendants walks the tree breadth-first; deeper processes come later
func descendants(ctx context.Context, root *process.Process) []*process.Process {
	var out []*process.Process
	queue := []*process.Process{root}
	seen := map[int32]bool{root.Pid: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := current.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, child := range children {
			if seen[child.Pid] {
				continue
			}
			seen[child.Pid] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func kill(ctx context.Context, proc *process.Process) error {
	if err := proc.KillWithContext(ctx); err != nil {
		if running, rerr := proc.IsRunningWithContext(ctx); rerr == nil && !running {
			return nil
		}
		return fmt.Errorf("kill %d: %w", proc.Pid, err)
	}
	return nil
}
