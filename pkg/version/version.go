// Package version exposes build-time version metadata.
package version

// NotifywatchVersion is the semantic version string embedded at build time.
var NotifywatchVersion = "0.0.0-src"

// Set version at compile time with
// go build -ldflags "-X notifywatch/pkg/version.NotifywatchVersion=1.0.0" -o notifywatch

// For a release build with version and optimization flags:
// go build -ldflags "-s -w -X notifywatch/pkg/version.NotifywatchVersion=1.0.0" -o notifywatch
