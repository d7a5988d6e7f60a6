// Package version reports what build of troupe is running. The commit is
// resolved once at startup: an -ldflags override wins, then the VCS stamp
// embedded by the Go toolchain, then "dev" for test and non-git builds.
package version

import "runtime/debug"

// AppName prefixes version strings in logs and health payloads.
const AppName = "troupe"

const (
	shortLen    = 8
	devVersion  = "dev"
	dirtySuffix = "-dirty"
	revisionKey = "vcs.revision"
	modifiedKey = "vcs.modified"
)

// commitOverride is injected via
// -ldflags "-X .../pkg/version.commitOverride=<sha>" in container builds,
// where the .git directory never reaches the build stage.
var commitOverride string

// GitCommit is the short commit hash, with "-dirty" appended when the
// working tree had local modifications at build time.
var GitCommit = resolve()

// Full returns "troupe/<commit>" for logs and user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}

func resolve() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return devVersion
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	rev := settings[revisionKey]
	if rev == "" {
		return devVersion
	}
	v := shorten(rev)
	if settings[modifiedKey] == "true" {
		v += dirtySuffix
	}
	return v
}

func shorten(rev string) string {
	if len(rev) > shortLen {
		return rev[:shortLen]
	}
	return rev
}
