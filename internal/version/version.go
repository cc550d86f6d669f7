// Package version holds build-time version information for the docrag binary.
// The variables are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/docrag-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/docrag-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/docrag-go/internal/version.BuildDate=2025-01-01"
//
// Without ldflags the module version recorded by the Go toolchain is used
// when available, so `go install` builds still report something useful.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is the semantic version of the binary (e.g. "v1.2.3").
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
var BuildDate = "unknown"

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Resolved returns the version, falling back to the main module version
// from the embedded build info when Version was not set via ldflags.
func Resolved() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// String renders the one-line version banner printed by `docrag version`.
func String() string {
	return fmt.Sprintf("docrag %s (commit: %s, built: %s)", Resolved(), Commit, BuildDate)
}
