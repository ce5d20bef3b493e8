// Package debug provides debug logging gated by the GT_DEBUG environment
// variable.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("GT_DEBUG") != ""

// Enabled returns true if debug logging is enabled
func Enabled() bool {
	return enabled
}

// SetVerbose enables debug logging at runtime (e.g., from a --verbose flag)
func SetVerbose(verbose bool) {
	if verbose {
		enabled = true
	}
}

// Logf prints a debug message to stderr if debug logging is enabled
func Logf(format string, args ...interface{}) {
	if enabled {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
