package core

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// AppName is reported to the UI and written into backups
const AppName = "TorCalculator"

// Version is the launcher build version, resolved from build info at init
var Version = "devel"

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		Version = versionFromBuildInfo(info)
	}
}

// versionFromBuildInfo prefers a tagged module version and falls back to the
// VCS revision ("devel-<sha>[-dirty]") for local builds.
func versionFromBuildInfo(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return v
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	v := fmt.Sprintf("devel-%s", revision)
	if dirty {
		v += "-dirty"
	}
	return v
}

// FormatVersion strips the "v" prefix of tagged releases; devel versions
// pass through unchanged.
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// isPseudoVersion reports whether v ends in the 12-character commit hash of a
// Go module pseudo-version, e.g. v0.0.0-20260217105831-82903d1d8810.
func isPseudoVersion(v string) bool {
	if i := strings.Index(v, "+"); i >= 0 {
		v = v[:i]
	}
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
