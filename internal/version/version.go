// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/wallet-watch/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/wallet-watch/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/wallet-watch/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/watcher
package version

import "fmt"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}

// UserAgent identifies the watcher in outbound requests.
func UserAgent() string {
	return "wallet-watch/" + Version
}
