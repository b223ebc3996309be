// Package shutdown runs cleanup callbacks exactly once, whichever way the
// process ends: normal return, signal or panic.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"time"
)

type hook struct {
	name string
	fn   func() error
}

// Coordinator collects cleanup callbacks and runs them in registration order
type Coordinator struct {
	mu     sync.Mutex
	hooks  []hook
	ran    bool
	once   sync.Once
	done   chan struct{}
	logger *slog.Logger
}

// New creates a coordinator
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		done:   make(chan struct{}),
		logger: logger.With("component", "shutdown"),
	}
}

// Register adds a callback. Registering after Run has started executes fn
// right away so late resources are still released.
func (c *Coordinator) Register(name string, fn func() error) {
	c.mu.Lock()
	if !c.ran {
		c.hooks = append(c.hooks, hook{name: name, fn: fn})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Debug("Late cleanup registered, running immediately", "name", name)
	c.invoke(hook{name: name, fn: fn})
}

// Run executes every callback once. Failures and panics are logged and do
// not stop the remaining callbacks. Concurrent callers wait for completion.
func (c *Coordinator) Run() {
	c.once.Do(func() {
		c.mu.Lock()
		c.ran = true
		hooks := c.hooks
		c.hooks = nil
		c.mu.Unlock()

		c.logger.Info("Executing shutdown sequence...")
		start := time.Now()
		for _, h := range hooks {
			c.invoke(h)
		}
		c.logger.Debug("Shutdown sequence complete", "callbacks", len(hooks), "duration", time.Since(start))
		close(c.done)
	})
}

// Done is closed after Run has finished
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) invoke(h hook) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Cleanup panicked", "name", h.name, "panic", fmt.Sprint(r))
		}
	}()

	c.logger.Debug("Running cleanup", "name", h.name)
	if err := h.fn(); err != nil {
		c.logger.Error("Cleanup failed", "name", h.name, "error", err)
	}
}

// Guard must be deferred directly. On panic it runs the shutdown sequence
// and re-panics.
func (c *Coordinator) Guard() {
	if r := recover(); r != nil {
		c.logger.Error("Unexpected panic, shutting down", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		c.Run()
		panic(r)
	}
}

// HandleSignals returns a context cancelled on the first termination signal.
// The signal also starts the shutdown sequence in the background. stop
// releases the signal handler.
func (c *Coordinator) HandleSignals(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, terminationSignals...)

	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			c.logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
			c.Run()
		case <-quit:
		case <-ctx.Done():
		}
	}()

	var stopOnce sync.Once
	return ctx, func() {
		stopOnce.Do(func() {
			signal.Stop(sigChan)
			close(quit)
			cancel()
		})
	}
}
