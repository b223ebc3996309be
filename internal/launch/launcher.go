package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/probe"
	"go.olrik.dev/torcalc/internal/procinfo"
	"go.olrik.dev/torcalc/internal/shutdown"
	"go.olrik.dev/torcalc/internal/staticserver"
	"go.olrik.dev/torcalc/internal/supervisor"
)

// staticStopTimeout bounds the static server shutdown
const staticStopTimeout = 3 * time.Second

// Spawner starts and stops the UI server child
type Spawner interface {
	Spawn(ctx context.Context, spec supervisor.Spec) (*supervisor.Handle, error)
	Stop(h *supervisor.Handle) error
}

// Options describe one launch
type Options struct {
	UIRoot       string
	Host         string
	Port         int
	Dev          bool
	Timeout      time.Duration
	Entrypoint   string
	MaxPortTries int
	// InstanceLock is the path of the single-launcher lock; empty disables it
	InstanceLock string
	// Env is passed to the spawned UI server
	Env map[string]string
}

// Deps are the collaborators a Launcher drives
type Deps struct {
	Prober      *probe.Prober
	Inspector   procinfo.Inspector
	Coordinator *shutdown.Coordinator
	Logger      *slog.Logger
	// Prepare runs the live-server preconditions (Node.js, package manager)
	// and returns the spawner to use. It is not called for static bundles.
	Prepare func(ctx context.Context) (Spawner, error)
}

// Ready is a UI URL that answered a health probe
type Ready struct {
	URL    string
	Port   int
	Dev    bool
	Reused bool
	Target ServerTarget
	// Handle is nil unless this launch spawned the server
	Handle *supervisor.Handle
	// Static is set when a prebuilt bundle is served
	Static *staticserver.Server
}

// Launcher brings the UI to a ready URL
type Launcher struct {
	opts    Options
	deps    Deps
	arbiter *probe.Arbiter
	logger  *slog.Logger
}

// New creates a launcher
func New(opts Options, deps Deps) *Launcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prober == nil {
		deps.Prober = probe.NewProber(deps.Logger)
	}
	if deps.Inspector == nil {
		deps.Inspector = procinfo.Unsupported{}
	}
	if deps.Coordinator == nil {
		deps.Coordinator = shutdown.New(deps.Logger)
	}
	if deps.Prepare == nil {
		logger := deps.Logger
		deps.Prepare = func(context.Context) (Spawner, error) {
			return supervisor.New(supervisor.Options{Logger: logger}), nil
		}
	}
	if opts.Entrypoint == "" {
		opts.Entrypoint = core.DefaultEntrypoint
	}
	return &Launcher{
		opts:    opts,
		deps:    deps,
		arbiter: probe.NewArbiter(deps.Prober, opts.MaxPortTries),
		logger:  deps.Logger.With("component", "launch"),
	}
}

// Launch resolves the UI target and returns once it is healthy. Cleanup of
// everything it starts is registered with the coordinator.
func (l *Launcher) Launch(ctx context.Context) (*Ready, error) {
	if err := CheckUIRoot(l.opts.UIRoot); err != nil {
		return nil, err
	}

	target := Resolve(l.opts.UIRoot)
	l.logger.Info("Resolved UI target", "mode", target.Mode, "location", target.Location)

	if target.Mode == ModeStaticBundle {
		return l.launchStatic(target)
	}
	return l.launchServer(ctx, target)
}

func (l *Launcher) launchStatic(target ServerTarget) (*Ready, error) {
	srv := staticserver.New(target.Location, l.deps.Logger)
	url, err := srv.Start()
	if err != nil {
		return nil, core.Wrap(core.KindConfiguration, "serve static bundle", err)
	}
	l.deps.Coordinator.Register("static server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), staticStopTimeout)
		defer cancel()
		return srv.Stop(ctx)
	})

	return &Ready{URL: url, Target: target, Static: srv}, nil
}

func (l *Launcher) launchServer(ctx context.Context, target ServerTarget) (*Ready, error) {
	host := l.opts.Host
	port := l.opts.Port
	dev := l.opts.Dev

	if !dev && !HasProductionBuild(l.opts.UIRoot) {
		l.logger.Warn(`UI production build not found (expected ".next/BUILD_ID"). Falling back to dev mode.`)
		dev = true
	}

	spawner, err := l.deps.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	if dev && fileExists(DevLockPath(l.opts.UIRoot)) {
		l.recover(ctx, port)
	}

	reused := false
	if l.deps.Prober.Reachable(host, port) {
		healthy := l.deps.Prober.Healthy(ctx, host, port)
		switch {
		case healthy && (dev || l.ownsListener(ctx, port)):
			l.logger.Warn("UI port is already in use and looks healthy. Reusing existing UI server.",
				"address", probe.Address(host, port))
			reused = true
		case !dev || !fileExists(DevLockPath(l.opts.UIRoot)):
			if healthy {
				l.logger.Warn("UI port is served by an unrelated application. Picking another port.",
					"address", probe.Address(host, port))
			} else {
				l.logger.Warn("UI port is already in use but does not respond to HTTP. Picking another port.",
					"address", probe.Address(host, port))
			}
			candidate, err := l.arbiter.Pick(host, port)
			if err != nil {
				return nil, err
			}
			l.logger.Info("Using alternate UI port", "port", candidate.Port, "source", candidate.Source)
			port = candidate.Port
		default:
			// A second dev server cannot start while the lock exists
			l.logger.Warn("Next dev lock is still held, waiting on the original port", "port", port)
		}
	}

	var handle *supervisor.Handle
	if !reused && !l.deps.Prober.Reachable(host, port) {
		handle, err = l.spawn(ctx, spawner, port, dev)
		if err != nil {
			return nil, err
		}
	}

	err = l.await(ctx, host, port, handle)
	if err != nil && handle != nil && core.KindOf(err) == core.KindPortConflict {
		l.logger.Warn("UI port was taken before the server could bind it, retrying on another port",
			"port", port, "error", err)
		if serr := spawner.Stop(handle); serr != nil {
			l.logger.Warn("Failed to stop UI server that lost its port", "pid", handle.PID, "error", serr)
		}

		candidate, perr := l.arbiter.Pick(host, port)
		if perr != nil {
			return nil, perr
		}
		port = candidate.Port
		handle, err = l.spawn(ctx, spawner, port, dev)
		if err != nil {
			return nil, err
		}
		err = l.await(ctx, host, port, handle)
	}
	if err != nil {
		return nil, err
	}

	if handle != nil {
		handle.MarkRunning()
	}
	url := fmt.Sprintf("http://%s/", probe.Address(host, port))
	l.logger.Info("UI is ready", "url", url, "reused", reused, "dev", dev)

	return &Ready{
		URL:    url,
		Port:   port,
		Dev:    dev,
		Reused: reused,
		Target: target,
		Handle: handle,
	}, nil
}

// ownsListener reports whether the process listening on port is a UI server
// for this UI root. Platforms without process inspection cannot tell, so
// the occupant is trusted there.
func (l *Launcher) ownsListener(ctx context.Context, port int) bool {
	signature := procinfo.Signature{UIRoot: l.opts.UIRoot, Entrypoint: l.opts.Entrypoint}

	pid, err := l.deps.Inspector.ListenerPID(ctx, port)
	if err == nil {
		var cmdline string
		cmdline, err = l.deps.Inspector.Cmdline(ctx, pid)
		if err == nil {
			if signature.Matches(cmdline) {
				return true
			}
			l.logger.Debug("Port occupant is not our UI server", "port", port, "pid", pid, "cmdline", cmdline)
			return false
		}
	}
	if errors.Is(err, procinfo.ErrUnsupported) {
		l.logger.Debug("Cannot inspect port occupant on this platform, trusting it", "port", port)
		return true
	}
	l.logger.Debug("Could not identify port occupant", "port", port, "error", err)
	return false
}

// recover runs stale-state recovery unless another launcher owns the UI
func (l *Launcher) recover(ctx context.Context, port int) {
	if l.opts.InstanceLock != "" {
		lock, err := AcquireInstanceLock(l.opts.InstanceLock)
		if err != nil {
			l.logger.Warn("Could not take launcher lock, skipping recovery", "error", err)
			return
		}
		if !lock.Held() {
			l.logger.Warn("Another launcher is running, skipping dev server recovery", "lock", l.opts.InstanceLock)
			return
		}
		l.deps.Coordinator.Register("launcher lock", lock.Release)
	}

	recovery := NewRecovery(l.opts.UIRoot, l.opts.Host, l.opts.Entrypoint, l.deps.Prober, l.deps.Inspector, l.logger)
	outcome := recovery.Recover(ctx, port)
	l.logger.Debug("Dev lock recovery finished", "outcome", outcome)
}

func (l *Launcher) spawn(ctx context.Context, spawner Spawner, port int, dev bool) (*supervisor.Handle, error) {
	handle, err := spawner.Spawn(ctx, supervisor.Spec{
		Dir:  l.opts.UIRoot,
		Port: port,
		Dev:  dev,
		Env:  l.opts.Env,
	})
	if err != nil {
		return nil, err
	}
	l.deps.Coordinator.Register("ui server", func() error {
		return spawner.Stop(handle)
	})
	return handle, nil
}

// await blocks until the UI is healthy. A spawned child that exits first
// ends the wait: if something else now holds the port the bind was lost
// (PortConflict), otherwise the exit itself is the error.
func (l *Launcher) await(ctx context.Context, host string, port int, handle *supervisor.Handle) error {
	if handle == nil {
		return l.deps.Prober.WaitForHTTP(ctx, host, port, l.opts.Timeout)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-handle.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := l.deps.Prober.WaitForHTTP(waitCtx, host, port, l.opts.Timeout)

	select {
	case <-handle.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		exitErr := handle.ExitError()
		if l.deps.Prober.Reachable(host, port) {
			return core.Wrap(core.KindPortConflict, "wait for ui",
				fmt.Errorf("port %d is served by another process: %w", port, exitErr))
		}
		return exitErr
	default:
	}
	return err
}
