// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X spread-scanner/internal/version.Version=v0.3.0" ./cmd/spreadscan
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("spreadscan %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
