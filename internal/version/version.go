// Package version provides build version information.
package version

// Build-time parameters set via ldflags.
var (
	Version = "devel"
	Commit  = "unknown"
)
