// Package supervisor starts the UI server as a child process, pumps its
// output into the log and stops its whole process tree on shutdown.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.olrik.dev/torcalc/internal/core"
)

const (
	DefaultGracePeriod = 5 * time.Second

	// outputBuffer bounds the lines queued between the pump and the logger
	outputBuffer = 1000
	// tailSize is how many recent lines a handle keeps for error reports
	tailSize = 20
	// drainWait is how long a finished child's output may keep flowing
	drainWait = time.Second
	// killWait is how long to wait for the exit after a force kill
	killWait = 2 * time.Second
)

// State of a supervised child
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// Spec describes the UI server to start
type Spec struct {
	Dir  string
	Port int
	Dev  bool
	// Env is added to the inherited environment
	Env map[string]string
}

// Options configure a Supervisor
type Options struct {
	PackageManager PackageManager
	GracePeriod    time.Duration
	PTY            bool
	Logger         *slog.Logger
	// Argv replaces the package manager command line when set
	Argv func(Spec) []string
}

// Supervisor owns UI server children
type Supervisor struct {
	pm     PackageManager
	grace  time.Duration
	usePTY bool
	logger *slog.Logger

	argv func(Spec) []string
}

// New creates a supervisor
func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.PackageManager == "" {
		opts.PackageManager = PNPM
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Supervisor{
		pm:     opts.PackageManager,
		grace:  opts.GracePeriod,
		usePTY: opts.PTY,
		logger: opts.Logger.With("component", "supervisor"),
	}
	s.argv = s.pm.Argv
	if opts.Argv != nil {
		s.argv = opts.Argv
	}
	return s
}

// Handle tracks one running child
type Handle struct {
	PID     int
	Port    int
	Command []string

	mu       sync.Mutex
	state    State
	exitCode int
	tail     []string
	dropped  int
	done     chan struct{}
	stopMu   sync.Mutex
	stopped  bool
	closeOut func()
}

// State returns the current child state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// MarkRunning records that the child proved healthy
func (h *Handle) MarkRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateStarting {
		h.state = StateRunning
	}
}

// Done is closed when the child exits
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the exit code once the child has exited
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.state == StateExited
}

// Tail returns the most recent output lines
func (h *Handle) Tail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.tail...)
}

// ExitError describes an exit as a child-process error carrying the last
// output lines.
func (h *Handle) ExitError() error {
	code, exited := h.ExitCode()
	if !exited {
		return nil
	}
	msg := fmt.Sprintf("UI server exited with code %d", code)
	if tail := h.Tail(); len(tail) > 0 {
		msg += ": " + tail[len(tail)-1]
	}
	return core.Wrap(core.KindChildProcess, "ui server", errors.New(msg))
}

func (h *Handle) remember(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tail = append(h.tail, line)
	if len(h.tail) > tailSize {
		h.tail = h.tail[len(h.tail)-tailSize:]
	}
}

func (h *Handle) finish(code int) {
	h.mu.Lock()
	h.state = StateExited
	h.exitCode = code
	h.mu.Unlock()
	close(h.done)
}

// Spawn starts the UI server for spec. The child gets its own process group
// so Stop can reach every descendant.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	argv := s.argv(spec)
	if len(argv) == 0 {
		return nil, core.Errorf(core.KindConfiguration, "spawn", "empty UI server command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = childEnv(os.Environ(), spec)

	s.logger.Info("Starting UI server", "command", strings.Join(argv, " "), "port", spec.Port)

	var (
		output io.ReadCloser
		err    error
	)
	if s.usePTY {
		output, err = startPTY(cmd)
	} else {
		output, err = startPipe(cmd)
	}
	if err != nil {
		return nil, core.Wrap(core.KindChildProcess, "spawn", fmt.Errorf("failed to start UI server: %w", err))
	}

	h := &Handle{
		PID:     cmd.Process.Pid,
		Port:    spec.Port,
		Command: argv,
		state:   StateStarting,
		done:    make(chan struct{}),
	}
	var closeOnce sync.Once
	h.closeOut = func() { closeOnce.Do(func() { output.Close() }) }

	lines := make(chan string, outputBuffer)
	pumpDone := make(chan struct{})
	go s.pump(h, output, lines, pumpDone)
	go s.logLines(lines)

	go func() {
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}

		// Let trailing output reach the log, but do not wait on grandchildren
		// that inherited the pipe.
		select {
		case <-pumpDone:
		case <-time.After(drainWait):
		}
		h.closeOut()

		s.logger.Debug("UI server exited", "pid", h.PID, "code", code, "error", err)
		h.finish(code)
	}()

	return h, nil
}

// pump reads merged output line by line. The queue never blocks the child:
// lines that do not fit are counted and dropped.
func (s *Supervisor) pump(h *Handle, r io.Reader, lines chan<- string, done chan<- struct{}) {
	defer close(done)
	defer close(lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		h.remember(line)
		select {
		case lines <- line:
		default:
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	dropped := h.dropped
	h.mu.Unlock()
	if dropped > 0 {
		s.logger.Warn("UI server output was dropped", "lines", dropped)
	}
}

func (s *Supervisor) logLines(lines <-chan string) {
	for line := range lines {
		s.logger.Info(fmt.Sprintf("[ui] %s", line))
	}
}

// Stop terminates the child and its descendants: a polite signal, GracePeriod
// to exit, then a force kill. Safe to call repeatedly; a failed stop can be
// retried.
func (s *Supervisor) Stop(h *Handle) error {
	if h == nil {
		return nil
	}

	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if h.stopped {
		return nil
	}

	select {
	case <-h.done:
		// Descendants may outlive the leader
		killTree(h.PID)
		h.stopped = true
		return nil
	default:
	}

	s.logger.Info("Stopping UI server", "pid", h.PID)
	if err := terminateTree(h.PID); err != nil {
		s.logger.Debug("Failed to signal UI server", "pid", h.PID, "error", err)
	}

	select {
	case <-h.done:
		s.logger.Debug("UI server stopped gracefully", "pid", h.PID)
	case <-time.After(s.grace):
		s.logger.Warn("UI server did not stop gracefully, force killing", "pid", h.PID, "grace", s.grace)
		if err := killTree(h.PID); err != nil {
			s.logger.Debug("Force kill failed", "pid", h.PID, "error", err)
		}
		select {
		case <-h.done:
		case <-time.After(killWait):
			return fmt.Errorf("UI server (pid %d) survived force kill", h.PID)
		}
	}

	killTree(h.PID)
	h.closeOut()
	h.stopped = true
	return nil
}

func startPipe(cmd *exec.Cmd) (io.ReadCloser, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The child holds its own copy
	pw.Close()
	return pr, nil
}

func childEnv(base []string, spec Spec) []string {
	env := append([]string(nil), base...)

	hasNodeEnv := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "NODE_ENV=") {
			hasNodeEnv = true
			break
		}
	}
	if !hasNodeEnv {
		if spec.Dev {
			env = append(env, "NODE_ENV=development")
		} else {
			env = append(env, "NODE_ENV=production")
		}
	}
	env = append(env, fmt.Sprintf("PORT=%d", spec.Port))

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	return env
}
