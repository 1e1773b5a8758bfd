package cmd

import (
	"io"
	"os"

	"golang.org/x/term"
)

// isTerminal reports whether command output goes to a terminal, tests
// replace it.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
