// Build information, set at link time with -ldflags "-X github.com/nobletooth/skipkv/pkg/utils.Version=v1.2.3".
// CAUTION: This file shouldn't be removed or else flags wouldn't be set properly.

package utils

import (
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/mod/semver"
)

const devVersion = "v0.0.0-dev"

var (
	TestMode   string // Should be true when running tests.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
)

func init() {
	StartTime = time.Now()

	// A missing or malformed version falls back to the dev version; commit and build time are marked unknown.
	if !semver.IsValid(Version) {
		if Version != "" {
			slog.Warn("Ignoring invalid build version.", "version", Version)
		}
		Version = devVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false", "error", err)
		}
	}
}

// IsDevBuild is true for binaries built without a release version.
func IsDevBuild() bool {
	return semver.Prerelease(Version) != "" || semver.Major(Version) == "v0"
}
