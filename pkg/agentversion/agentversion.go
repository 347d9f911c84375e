package agentversion

import (
	"fmt"
	"runtime"
)

// Set at build time through -ldflags "-X".
var (
	version   string
	commit    string
	buildTime string
)

// Version returns agent version.
func Version() string {
	if version == "" {
		version = "dev"
	}

	return version
}

// Info returns the full build information of the agent.
func Info() string {
	c, bt := commit, buildTime
	if c == "" {
		c = "none"
	}
	if bt == "" {
		bt = "unknown"
	}
	return fmt.Sprintf("version: %s, commit: %s, built at: %s, go: %s %s/%s",
		Version(), c, bt, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
