// Package version holds build identification, overridable at link time.
package version

var (
	// Version is the semantic version, set via -ldflags at release builds.
	Version = "0.3.0-dev"
	// Commit is the short git hash of the build.
	Commit = "unknown"
)

// String returns "version (commit)".
func String() string {
	return Version + " (" + Commit + ")"
}
