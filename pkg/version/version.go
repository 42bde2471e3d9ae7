package version

import "fmt"

var (
	// Version contains the current version of pathmond
	Version = "dev"

	// CommitHash contains the current git commit hash
	CommitHash = "unknown"

	// BuildTime contains the time of build
	BuildTime = "unknown"
)

// String formats the build information for -version output.
func String() string {
	return fmt.Sprintf("pathmond version %s (commit: %s, built at: %s)", Version, CommitHash, BuildTime)
}
