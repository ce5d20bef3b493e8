package main

import (
	"fmt"
	"os"
)

// FatalError prints a formatted error to stderr and exits 1. Commands funnel
// unrecoverable failures through here so the output shape stays uniform.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}

// FatalErrorWithHint is FatalError plus a follow-up suggestion the user can
// act on, e.g.
//
//	FatalErrorWithHint("store not initialized", "Run 'gt init' to create one")
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(os.Stderr, "Error: %s\nHint: %s\n", message, hint)
	os.Exit(1)
}

// WarnError reports a non-fatal problem and keeps going. --quiet silences
// warnings; they never change the exit code.
func WarnError(format string, args ...interface{}) {
	if quietFlag {
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: %s\n", fmt.Sprintf(format, args...))
}
