// Package notify posts desktop notifications for failures the user would
// otherwise never see (no terminal attached).
package notify

import (
	"errors"
	"log/slog"
	"strings"

	"go.olrik.dev/torcalc/internal/core"
)

// Notifier shows a desktop notification
type Notifier interface {
	Notify(summary, body string) error
}

// Discard drops every notification
type Discard struct{}

func (Discard) Notify(string, string) error { return nil }

// maxBody keeps notification bodies readable
const maxBody = 300

// FatalMessage builds the summary and body for a fatal launch error
func FatalMessage(err error) (string, string) {
	summary := core.AppName + " failed to start"
	if errors.Is(err, core.ErrUIAssetsMissing) {
		summary = core.AppName + ": UI files are missing"
	}

	body := strings.TrimSpace(err.Error())
	if len(body) > maxBody {
		body = body[:maxBody-3] + "..."
	}
	return summary, body
}

// Fatal reports err through n. Notification failures are only logged.
func Fatal(n Notifier, err error, logger *slog.Logger) {
	if err == nil || n == nil {
		return
	}
	summary, body := FatalMessage(err)
	if nerr := n.Notify(summary, body); nerr != nil && logger != nil {
		logger.Debug("Desktop notification failed", "error", nerr)
	}
}
