// Package logging provides the bracket-tagged operational log lines used
// across the module. Info goes to stdout, Warn and Error to stderr.
package logging

import (
	"fmt"
	"os"
)

const tag = "[notegraph]"

// Infof prints an informational line.
func Infof(format string, args ...any) {
	fmt.Printf(tag+" "+format+"\n", args...)
}

// Warnf prints a warning line to stderr.
func Warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, tag+" WARN "+format+"\n", args...)
}

// Errorf prints an error line to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, tag+" ERROR "+format+"\n", args...)
}
