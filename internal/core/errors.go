package core

import (
	"errors"
	"fmt"
)

// Kind classifies launcher failures for logging and exit-code decisions
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindPortConflict
	KindStaleLock
	KindHealthTimeout
	KindChildProcess
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPortConflict:
		return "port_conflict"
	case KindStaleLock:
		return "stale_lock"
	case KindHealthTimeout:
		return "health_timeout"
	case KindChildProcess:
		return "child_process"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a failure of this kind lets the launch continue
func (k Kind) Recoverable() bool {
	switch k {
	case KindPortConflict, KindStaleLock, KindStore:
		return true
	default:
		return false
	}
}

// ErrUIAssetsMissing is wrapped by configuration errors for a missing UI root
var ErrUIAssetsMissing = errors.New("UI assets missing")

// Error is a classified launcher error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error, wrapping with %w like fmt.Errorf
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUIAssetsMissing):
		return 2
	default:
		return 1
	}
}
