// Package launch decides how the UI is served and brings it to a healthy,
// ready-to-display URL.
package launch

import (
	"os"
	"path/filepath"

	"go.olrik.dev/torcalc/internal/core"
)

// Mode is how the UI is served
type Mode string

const (
	ModeStaticBundle Mode = "static-bundle"
	ModeLiveServer   Mode = "live-server"
)

// ServerTarget is the resolved serving decision for one launch
type ServerTarget struct {
	Mode     Mode
	Location string
	// Index is set for static bundles only
	Index string
}

// CheckUIRoot fails when the UI directory does not exist
func CheckUIRoot(uiRoot string) error {
	info, err := os.Stat(uiRoot)
	if err != nil || !info.IsDir() {
		return core.Errorf(core.KindConfiguration, "check ui", "UI folder not found: %s: %w", uiRoot, core.ErrUIAssetsMissing)
	}
	return nil
}

// Resolve prefers a prebuilt static bundle (out/index.html) and otherwise
// falls back to a live server rooted at uiRoot.
func Resolve(uiRoot string) ServerTarget {
	index := filepath.Join(uiRoot, "out", "index.html")
	if fileExists(index) {
		return ServerTarget{
			Mode:     ModeStaticBundle,
			Location: filepath.Dir(index),
			Index:    index,
		}
	}
	return ServerTarget{Mode: ModeLiveServer, Location: uiRoot}
}

// HasProductionBuild reports whether `next start` has a build to serve
func HasProductionBuild(uiRoot string) bool {
	return fileExists(filepath.Join(uiRoot, ".next", "BUILD_ID"))
}

// DevLockPath is the lock file a running dev server keeps
func DevLockPath(uiRoot string) string {
	return filepath.Join(uiRoot, ".next", "dev", "lock")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
