package shell

import (
	"context"
	"log/slog"
	"sync"
)

// None logs the URL and waits; the user brings their own browser
type None struct {
	logger  *slog.Logger
	mu      sync.Mutex
	closed  chan struct{}
	once    sync.Once
	url     string
	reloads int
}

// NewNone creates a headless host
func NewNone(logger *slog.Logger) *None {
	if logger == nil {
		logger = slog.Default()
	}
	return &None{logger: logger, closed: make(chan struct{})}
}

func (n *None) Open(ctx context.Context, url string) error {
	n.mu.Lock()
	n.url = url
	n.mu.Unlock()

	n.logger.Info("UI is available, open it in a browser", "url", url)
	select {
	case <-ctx.Done():
	case <-n.closed:
	}
	return nil
}

func (n *None) Reload(context.Context) error {
	n.mu.Lock()
	n.reloads++
	n.mu.Unlock()
	n.logger.Info("Reload requested, refresh the browser", "url", n.URL())
	return nil
}

func (n *None) Close(context.Context) error {
	n.once.Do(func() { close(n.closed) })
	return nil
}

// URL returns the URL passed to Open
func (n *None) URL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url
}

// Reloads counts Reload calls
func (n *None) Reloads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloads
}
