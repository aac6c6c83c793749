// Package buildinfo carries the version stamped into the bridge binary.
package buildinfo

import "fmt"

// Set from cmd/server, which receives them through -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Summary formats the build metadata for the startup log line.
func Summary() string {
	return fmt.Sprintf("CodexBridge Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
}
