//go:build !linux

package notify

import "log/slog"

// New returns a notifier that drops notifications on this platform
func New(*slog.Logger) Notifier {
	return Discard{}
}
