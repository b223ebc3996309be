// Package shell hosts the UI in a desktop window.
package shell

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	KindChrome = "chrome"
	KindNone   = "none"

	DefaultWidth  = 1200
	DefaultHeight = 800
)

// Host shows a UI URL until the user closes the window
type Host interface {
	// Open shows url and blocks until the window closes or ctx is done
	Open(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options configure a window host
type Options struct {
	Title  string
	Width  int
	Height int
	// ProfileDir keeps the browser profile out of the user's own
	ProfileDir string
	// ExecPath overrides Chrome discovery
	ExecPath string
	Logger   *slog.Logger
}

// New returns the host named by kind
func New(kind string, opts Options) (Host, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	logger := opts.Logger.With("component", "shell", "shell", kind)

	switch kind {
	case KindChrome:
		return newChrome(opts, logger), nil
	case KindNone:
		return NewNone(logger), nil
	default:
		return nil, fmt.Errorf("unknown shell %q", kind)
	}
}
