// Package ui provides the CLI's colored status output: headers,
// labels, and leveled messages gated on a --no-color flag and
// terminal detection, matching the internal/ui package convention
// of a package-level InitColors call plus *color.Color values the
// command handlers print through directly. Reconstructed from its
// call sites in cmd/cie since its own source wasn't available.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Exported color handles, used directly by callers (ui.Green.Println, ui.Cyan.Sprint, ...).
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
)

// InitColors enables or disables colored output. It is called once
// from main after flags are parsed: explicit --no-color, the NO_COLOR
// convention, and a non-terminal stdout all disable color.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section title.
func Header(title string) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("\n%s\n", title)
	fmt.Println(dashes(len(title)))
}

// SubHeader prints a bold section title without Header's underline.
func SubHeader(title string) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("\n%s\n", title)
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}

// Label renders a field name for a "Label: value" line.
func Label(text string) string {
	return color.New(color.FgHiBlack).Sprint(text)
}

// DimText renders a de-emphasized value.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText renders an integer count, highlighted when nonzero.
func CountText(n int) string {
	if n == 0 {
		return DimText("0")
	}
	return Green.Sprint(n)
}

// Info prints an informational line.
func Info(msg string) { fmt.Println(msg) }

// Infof prints a formatted informational line.
func Infof(format string, args ...any) { fmt.Printf(format+"\n", args...) }

// Success prints a green success line.
func Success(msg string) { _, _ = Green.Printf("✓ %s\n", msg) }

// Successf prints a formatted green success line.
func Successf(format string, args ...any) { Success(fmt.Sprintf(format, args...)) }

// Warning prints a yellow warning line.
func Warning(msg string) { _, _ = Yellow.Printf("! %s\n", msg) }

// Warningf prints a formatted yellow warning line.
func Warningf(format string, args ...any) { Warning(fmt.Sprintf(format, args...)) }

// Error prints a red error line to stderr.
func Error(msg string) { _, _ = Red.Fprintf(os.Stderr, "✗ %s\n", msg) }

// Errorf prints a formatted red error line to stderr.
func Errorf(format string, args ...any) { Error(fmt.Sprintf(format, args...)) }
