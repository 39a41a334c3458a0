// Package version holds build information injected with -ldflags.
package version

import "fmt"

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = "unknown"
)

// SetInfo overrides the defaults; empty values are ignored.
func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// String is the one-line form printed by `xavier version`.
func String() string {
	return fmt.Sprintf("xavier %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
