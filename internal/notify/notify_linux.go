//go:build linux

package notify

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"go.olrik.dev/torcalc/internal/core"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = "org.freedesktop.Notifications.Notify"

	// expireMs is how long the notification stays up
	expireMs = 10000
)

// DBus posts notifications on the session bus
type DBus struct {
	logger *slog.Logger
}

// New returns the session-bus notifier
func New(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBus{logger: logger}
}

func (d *DBus) Notify(summary, body string) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(notifyDest, dbus.ObjectPath(notifyPath))
	call := obj.Call(notifyMethod, 0,
		core.AppName,              // app_name
		uint32(0),                 // replaces_id
		"dialog-error",            // app_icon
		summary,                   // summary
		body,                      // body
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		int32(expireMs),           // expire_timeout
	)
	if call.Err != nil {
		return fmt.Errorf("failed to post notification: %w", call.Err)
	}
	return nil
}
