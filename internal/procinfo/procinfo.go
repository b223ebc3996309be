// Package procinfo inspects processes listening on local ports so a stale
// UI dev server can be recognised and stopped.
package procinfo

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnsupported is returned by every Inspector method on platforms
	// without process inspection. Callers treat it as "unknown" and take
	// the conservative path.
	ErrUnsupported = errors.New("process inspection is not supported on this platform")

	// ErrNoListener means no process with a known PID listens on the port
	ErrNoListener = errors.New("no process is listening on port")
)

// Inspector looks up and terminates processes
type Inspector interface {
	// ListenerPID returns the PID of the process listening on TCP port
	ListenerPID(ctx context.Context, port int) (int, error)
	// Cmdline returns the full command line of pid, arguments joined by spaces
	Cmdline(ctx context.Context, pid int) (string, error)
	// Terminate kills pid together with all of its descendants
	Terminate(ctx context.Context, pid int) error
}

// Signature identifies the UI dev server by its command line. Both the UI
// root and the entrypoint must appear; matching ignores case and treats
// backslashes as forward slashes.
type Signature struct {
	UIRoot     string
	Entrypoint string
}

// Matches reports whether cmdline belongs to a dev server for this UI root
func (s Signature) Matches(cmdline string) bool {
	if s.UIRoot == "" || s.Entrypoint == "" || cmdline == "" {
		return false
	}
	actual := normalize(cmdline)
	return strings.Contains(actual, normalize(s.UIRoot)) &&
		strings.Contains(actual, normalize(s.Entrypoint))
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, `\`, "/"))
}

// Unsupported is the Inspector for platforms gopsutil does not cover
type Unsupported struct{}

func (Unsupported) ListenerPID(context.Context, int) (int, error) { return 0, ErrUnsupported }
func (Unsupported) Cmdline(context.Context, int) (string, error)  { return "", ErrUnsupported }
func (Unsupported) Terminate(context.Context, int) error          { return ErrUnsupported }
