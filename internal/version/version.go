// Package version holds build information injected with
// -ldflags "-X github.com/hazz-dev/canary/internal/version.Version=...".
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("canary %s (commit %s, built %s)", Version, Commit, Date)
}
