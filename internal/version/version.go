// Package version holds build information for the civic binary, set with
// -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/civic-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/civic-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/civic-go/internal/version.BuildDate=2026-01-01"
package version

import "fmt"

// Version is the semantic version of the binary. "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date.
var BuildDate = "unknown"

// String formats the build information for `civic version`.
func String() string {
	return fmt.Sprintf("civic %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
