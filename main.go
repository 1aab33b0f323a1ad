// Command bitk runs the Issue Execution Engine: a headless daemon that
// supervises AI coding CLI subprocesses on behalf of tracked issues and
// exposes their lifecycle over an HTTP/SSE boundary.
package main

import (
	"fmt"
	"os"

	"github.com/WuChenDi/bitk/cmd"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	versionString := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	cmd.SetVersion(versionString)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
