package launch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.olrik.dev/torcalc/internal/probe"
	"go.olrik.dev/torcalc/internal/procinfo"
)

// RecoveryOutcome is what stale-state recovery did with the dev lock
type RecoveryOutcome string

const (
	OutcomeNoLock      RecoveryOutcome = "no-lock"
	OutcomeReused      RecoveryOutcome = "reused"
	OutcomeLockRemoved RecoveryOutcome = "lock-removed"
	OutcomeLockKept    RecoveryOutcome = "lock-kept"
)

// portReleaseWait bounds how long a terminated server may take to free its port
const portReleaseWait = 2 * time.Second

// Recovery cleans up after a dev server a previous run left behind
type Recovery struct {
	UIRoot    string
	Host      string
	Signature procinfo.Signature

	prober    *probe.Prober
	inspector procinfo.Inspector
	logger    *slog.Logger
}

// NewRecovery creates a recovery for uiRoot using entrypoint to recognise
// our own dev server.
func NewRecovery(uiRoot, host, entrypoint string, prober *probe.Prober, inspector procinfo.Inspector, logger *slog.Logger) *Recovery {
	return &Recovery{
		UIRoot:    uiRoot,
		Host:      host,
		Signature: procinfo.Signature{UIRoot: uiRoot, Entrypoint: entrypoint},
		prober:    prober,
		inspector: inspector,
		logger:    logger,
	}
}

// Recover inspects the dev lock for port. The lock is only ever deleted
// after the port has been confirmed closed.
func (r *Recovery) Recover(ctx context.Context, port int) RecoveryOutcome {
	lock := DevLockPath(r.UIRoot)
	if !fileExists(lock) {
		return OutcomeNoLock
	}

	if r.prober.Healthy(ctx, r.Host, port) {
		r.logger.Warn("Next dev lock is present and UI is healthy. Reusing existing dev server.",
			"address", probe.Address(r.Host, port))
		return OutcomeReused
	}

	r.logger.Warn("Next dev lock is present but UI is not responding. Trying to recover...",
		"address", probe.Address(r.Host, port))
	r.stopStaleServer(ctx, port)

	if r.prober.Reachable(r.Host, port) {
		r.logger.Warn("Port is still in use, keeping Next dev lock", "port", port, "lock", lock)
		return OutcomeLockKept
	}

	if err := os.Remove(lock); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Error("Failed to remove Next dev lock", "lock", lock, "error", err)
		return OutcomeLockKept
	}
	r.logger.Warn("Removed stale Next dev lock", "lock", lock)
	return OutcomeLockRemoved
}

// stopStaleServer terminates whatever holds port, but only when its
// command line identifies it as this UI's dev server.
func (r *Recovery) stopStaleServer(ctx context.Context, port int) {
	pid, err := r.inspector.ListenerPID(ctx, port)
	if err != nil {
		if errors.Is(err, procinfo.ErrUnsupported) {
			r.logger.Debug("Process inspection unsupported, not terminating anything", "port", port)
		} else {
			r.logger.Warn("Could not find listening PID for port", "port", port, "error", err)
		}
		return
	}

	cmdline, err := r.inspector.Cmdline(ctx, pid)
	if err != nil {
		r.logger.Warn("Could not read command line of port owner", "port", port, "pid", pid, "error", err)
		return
	}

	if !r.Signature.Matches(cmdline) {
		r.logger.Error("Port is owned by a process that does not look like our Next server. Not killing automatically.",
			"port", port, "pid", pid, "cmdline", cmdline)
		return
	}

	r.logger.Warn("Terminating stale Next dev server", "port", port, "pid", pid)
	if err := r.inspector.Terminate(ctx, pid); err != nil {
		r.logger.Error("Failed to terminate stale Next dev server", "pid", pid, "error", err)
		return
	}

	// The socket can outlive the process for a moment
	deadline := time.Now().Add(portReleaseWait)
	for time.Now().Before(deadline) && r.prober.Reachable(r.Host, port) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.prober.PollInterval):
		}
	}
}
