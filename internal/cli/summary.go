package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/roach88/xconform/internal/matrix"
)

// colorEnabled reports whether w is a terminal that should get ANSI color.
// NO_COLOR and non-file writers disable it.
func colorEnabled(w io.Writer) bool {
	if color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printSummary writes one line per (engine, suite) row with colored counts.
func printSummary(w io.Writer, rep matrix.Report, useColor bool) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta, color.Bold)
	bold := color.New(color.Bold)
	for _, c := range []*color.Color{green, red, yellow, magenta, bold} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	for _, row := range rep.Rows {
		c := row.Counts
		fmt.Fprintf(w, "%-12s %-10s ", row.Engine, row.Suite)
		green.Fprintf(w, "passed %d", c.Passed)
		fmt.Fprint(w, "  ")
		red.Fprintf(w, "failed %d", c.Failed)
		fmt.Fprint(w, "  ")
		yellow.Fprintf(w, "skipped %d", c.Skipped)
		fmt.Fprint(w, "  ")
		magenta.Fprintf(w, "error %d", c.Errors)
		fmt.Fprint(w, "  ")
		bold.Fprintln(w, matrix.FormatRate(c.PassRate()))
	}
	if rep.Partial {
		yellow.Fprintln(w, "run did not complete: report is partial")
	}
}
