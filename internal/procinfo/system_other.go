//go:build !linux && !darwin && !windows && !freebsd

package procinfo

import "log/slog"

// ForPlatform returns the best Inspector for this OS
func ForPlatform(*slog.Logger) Inspector {
	return Unsupported{}
}
