// Package version exposes build metadata stamped in via ldflags:
//
//	go build -ldflags "-X github.com/statusdeck/streamgate/internal/version.Version=0.3.0 \
//	                   -X github.com/statusdeck/streamgate/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/statusdeck/streamgate/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "fmt"

var (
	// Version is the release version, "dev" for unstamped builds.
	Version = "dev"

	// Commit is the short git commit hash.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String returns "version (commit) built time".
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}
