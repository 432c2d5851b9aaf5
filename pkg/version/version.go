package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	version   string
	commit    string
	buildTime string
)

// Version returns the service version.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// String returns version, commit and build time on one line.
func String() string {
	return fmt.Sprintf("version: %s, commit: %s, build: %s", Version(), orUnknown(commit), orUnknown(buildTime))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
