package version

import "fmt"

// Set via -ldflags at release time.
var (
	Name    = "agentd"
	Version = "0.1.0"
	Commit  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s)", Name, Version, Commit)
}
