// Package logx is a thin color-coded logger for CLI-facing progress and
// diagnostics: green for completed steps, yellow for warnings (compile
// degrade, manifest ambiguity), red for fatal errors. Library code never
// imports this package directly; it takes a plain func(string) callback
// (see pkg/packager.Packager.Warn) and cmd/upy-packager wires it here.
package logx

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Logger writes leveled, color-coded lines to an underlying writer (os.Stderr
// by default). Quiet suppresses Info output, matching a CLI's --quiet flag.
type Logger struct {
	Out   io.Writer
	Quiet bool
}

// New returns a Logger writing to os.Stderr.
func New() *Logger {
	return &Logger{Out: os.Stderr}
}

func (l *Logger) writer() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stderr
}

// Info prints a routine progress line (cyan), e.g. a state transition.
func (l *Logger) Info(format string, args ...any) {
	if l.Quiet {
		return
	}
	fmt.Fprintln(l.writer(), color.CyanString(format, args...))
}

// Warn prints a recoverable diagnostic (yellow): a degraded compile, an
// ambiguous manifest resolution.
func (l *Logger) Warn(format string, args ...any) {
	fmt.Fprintln(l.writer(), color.YellowString("warning: "+format, args...))
}

// Error prints a fatal diagnostic (red) just before the CLI exits non-zero.
func (l *Logger) Error(format string, args ...any) {
	fmt.Fprintln(l.writer(), color.RedString("error: "+format, args...))
}

// Success prints a terminal success line (green), e.g. "installed".
func (l *Logger) Success(format string, args ...any) {
	fmt.Fprintln(l.writer(), color.GreenString(format, args...))
}
