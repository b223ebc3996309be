package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"go.olrik.dev/torcalc/internal/core"
)

// PackageManager runs the UI's package scripts
type PackageManager string

const (
	PNPM PackageManager = "pnpm"
	NPM  PackageManager = "npm"
)

var ErrNoPackageManager = errors.New("neither pnpm nor npm found in PATH")

// PickPackageManager prefers pnpm and falls back to npm with a warning.
// lookPath is exec.LookPath outside of tests.
func PickPackageManager(lookPath func(string) (string, error), logger *slog.Logger) (PackageManager, error) {
	if _, err := lookPath(string(PNPM)); err == nil {
		return PNPM, nil
	}
	if _, err := lookPath(string(NPM)); err == nil {
		logger.Warn("pnpm not found in PATH, falling back to npm")
		return NPM, nil
	}
	return "", core.Wrap(core.KindConfiguration, "pick package manager",
		fmt.Errorf("%w: install Node.js and pnpm", ErrNoPackageManager))
}

// Script is the package script for the mode
func Script(dev bool) string {
	if dev {
		return "dev"
	}
	return "start"
}

// Argv builds the command line that starts the UI server for spec
func (pm PackageManager) Argv(spec Spec) []string {
	port := strconv.Itoa(spec.Port)
	if pm == NPM {
		return []string{string(pm), "--prefix", spec.Dir, "run", Script(spec.Dev), "--", "-p", port}
	}
	return []string{string(pm), "-C", spec.Dir, Script(spec.Dev), "--", "-p", port}
}

// nodeVersion runs `node -v`; replaced in tests
var nodeVersion = func(ctx context.Context) (string, error) {
	node, err := exec.LookPath("node")
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, node, "-v").Output()
	if err != nil {
		return "", fmt.Errorf("failed to check Node.js version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseNodeMajor extracts the major version from output like "v20.11.1"
func ParseNodeMajor(version string) (int, bool) {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CheckNodeVersion fails when node is missing or older than minMajor. An
// unparseable version only logs a warning.
func CheckNodeVersion(ctx context.Context, minMajor int, logger *slog.Logger) error {
	out, err := nodeVersion(ctx)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return core.Errorf(core.KindConfiguration, "check node",
				"Node.js not found in PATH. Install Node.js (>= %d)", minMajor)
		}
		return core.Wrap(core.KindConfiguration, "check node", err)
	}

	major, ok := ParseNodeMajor(out)
	if !ok {
		logger.Warn("Could not parse Node.js version", "version", out)
		return nil
	}
	if major < minMajor {
		return core.Errorf(core.KindConfiguration, "check node",
			"Node.js %s is too old for this UI. Install Node.js >= %d (recommended: 20 LTS)", out, minMajor)
	}

	logger.Debug("Node.js version ok", "version", out)
	return nil
}
