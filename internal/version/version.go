// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/facelock/internal/version.Version=v0.3.0" ./cmd/facelock
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders all three fields on one line.
func String() string {
	return fmt.Sprintf("facelock %s (%s, built %s)", Version, GitSHA, BuildTime)
}
