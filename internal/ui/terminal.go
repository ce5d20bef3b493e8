package ui

import (
	"os"
	"strconv"

	"golang.org/x/term"
)

// Widths below this break the stats and versions tables.
const minTableWidth = 40

// IsTerminal reports whether stdout is a TTY. Commands use it to decide
// between prompting and failing fast on missing confirmation.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetWidth returns the width reports should render at. Piped output has no
// terminal size; COLUMNS is honored there so captured output can still be
// shaped, otherwise 80 columns.
func GetWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		if w < minTableWidth {
			return minTableWidth
		}
		return w
	}
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols >= minTableWidth {
		return cols
	}
	return 80
}
