// Package printer writes the colored operator-facing output of the CLI.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
)

// Banner prints the startup summary of a node: a title line followed by
// the given settings in key order.
func Banner(w io.Writer, title string, settings map[string]string) {
	cyan.Fprintf(w, "=== %s ===\n", title)

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		faint.Fprintf(w, "  %-12s", k+":")
		fmt.Fprintf(w, " %s\n", settings[k])
	}
	fmt.Fprintln(w)
}

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	green.Printf("✓ "+format, a...)
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	yellow.Fprintf(os.Stderr, "⚠️  "+format, a...)
}

// Error prints a titled error with an explanation to stderr and returns a
// plain error for cobra.
func Error(title, explanation string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	return fmt.Errorf("%s", title)
}
