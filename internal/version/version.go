package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the released version, overridden at build time:
//
//	go build -ldflags "-X github.com/hrygo/supportdesk/internal/version.Version=1.2.0"
var Version = "0.1.0"

// DevVersion is reported in dev and demo modes.
var DevVersion = Version + "-dev"

// GitCommit is set via ldflags: -X github.com/hrygo/supportdesk/internal/version.GitCommit=$(git rev-parse HEAD)
var GitCommit = "unknown"

// BuildTime is set via ldflags in RFC3339 format.
var BuildTime = "unknown"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// IsValid reports whether v is a semantic version, with or without the leading "v".
func IsValid(v string) bool {
	return semver.IsValid(canonical(v))
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

// Minor returns "major.minor" of v, or "" when v is not a semantic version.
func Minor(v string) string {
	mm := semver.MajorMinor(canonical(v))
	return strings.TrimPrefix(mm, "v")
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// String returns the version string with the short commit hash when known.
func String() string {
	v := Version
	if GitCommit != "" && GitCommit != "unknown" {
		shortCommit := GitCommit
		if len(shortCommit) > 8 {
			shortCommit = shortCommit[:8]
		}
		v = fmt.Sprintf("%s-%s", v, shortCommit)
	}
	if BuildTime != "" && BuildTime != "unknown" {
		v = fmt.Sprintf("%s (built %s)", v, BuildTime)
	}
	return v
}
