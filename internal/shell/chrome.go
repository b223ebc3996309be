package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
)

// errNotOpen is returned when the window is driven before Open
var errNotOpen = errors.New("window is not open")

// Chrome shows the UI in a Chrome app-mode window driven over CDP
type Chrome struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	tab    context.Context
	cancel context.CancelFunc
}

func newChrome(opts Options, logger *slog.Logger) *Chrome {
	return &Chrome{opts: opts, logger: logger}
}

// allocatorOptions are the Chrome flags for an app window showing url
func (c *Chrome) allocatorOptions(url string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("hide-scrollbars", false),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("app", url),
		chromedp.WindowSize(c.opts.Width, c.opts.Height),
	)
	if c.opts.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.opts.ProfileDir))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	return opts
}

func (c *Chrome) Open(ctx context.Context, url string) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions(url)...)
	defer allocCancel()
	tab, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	closed := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(tab, func(ev any) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			once.Do(func() { close(closed) })
		}
	})

	if err := chromedp.Run(tab, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to open window: %w", err)
	}

	c.mu.Lock()
	c.tab = tab
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.tab = nil
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.logger.Info("Window opened", "url", url)
	select {
	case <-closed:
		c.logger.Info("Window closed")
	case <-tab.Done():
	case <-ctx.Done():
	}
	return nil
}

func (c *Chrome) current() (context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab, c.cancel
}

func (c *Chrome) Reload(context.Context) error {
	tab, _ := c.current()
	if tab == nil {
		return errNotOpen
	}
	return chromedp.Run(tab, chromedp.Reload())
}

func (c *Chrome) Close(context.Context) error {
	tab, cancel := c.current()
	if tab == nil {
		return errNotOpen
	}
	if err := chromedp.Cancel(tab); err != nil {
		cancel()
		return err
	}
	return nil
}
