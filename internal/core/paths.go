package core

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// resolveDataDir picks the data directory (flag, then environment, then the
// platform default) and makes sure it exists.
func resolveDataDir(flagValue *string, envValue string) (string, error) {
	dir := DefaultDataDir()
	if envValue != "" {
		dir = expandHome(envValue)
	}
	if flagValue != nil && *flagValue != "" {
		dir = expandHome(*flagValue)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultDataDir returns the per-user data directory:
// %LOCALAPPDATA%\TorCalculator on Windows, ~/.tor-calculator elsewhere.
func DefaultDataDir() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = os.Getenv("APPDATA")
		}
		if base == "" {
			base = executableDir()
		}
		return filepath.Join(base, AppName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(executableDir(), ".tor-calculator")
	}
	return filepath.Join(home, ".tor-calculator")
}

// DefaultUIRoot returns the "ui" directory next to the executable, or under
// the working directory when the executable has none (go run, tests).
func DefaultUIRoot() string {
	candidate := filepath.Join(executableDir(), "ui")
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "ui"
	}
	return filepath.Join(cwd, "ui")
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
