// Package debug writes developer diagnostics to stderr when FIELDMERGE_DEBUG is set.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("FIELDMERGE_DEBUG") != ""

// Enabled reports whether debug output is on.
func Enabled() bool { return enabled }

// SetEnabled overrides the environment, used by --verbose.
func SetEnabled(on bool) { enabled = on }

// Logf prints a debug line.
func Logf(format string, args ...any) {
	if enabled {
		fmt.Fprintf(os.Stderr, "[debug] "+format+"\n", args...)
	}
}
