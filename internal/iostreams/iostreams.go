// Package iostreams wraps the process's standard streams with terminal
// detection and color support.
package iostreams

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// IOStreams provides access to standard input/output/error streams.
// It follows the GitHub CLI pattern for testable I/O.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer

	// TTY caches: -1 = unchecked, 0 = false, 1 = true.
	isInputTTY  int
	isOutputTTY int
	isStderrTTY int

	// colorEnabled: -1 = auto (detect from TTY), 0 = disabled, 1 = enabled.
	colorEnabled int
}

// NewIOStreams creates an IOStreams connected to standard streams.
func NewIOStreams() *IOStreams {
	ios := &IOStreams{
		In:           os.Stdin,
		Out:          os.Stdout,
		ErrOut:       os.Stderr,
		isInputTTY:   -1,
		isOutputTTY:  -1,
		isStderrTTY:  -1,
		colorEnabled: -1,
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		ios.colorEnabled = 0
	}
	return ios
}

func isTerminal(v any, cache *int) bool {
	if *cache == -1 {
		*cache = 0
		if f, ok := v.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			*cache = 1
		}
	}
	return *cache == 1
}

// IsInputTTY returns true if stdin is a terminal.
func (s *IOStreams) IsInputTTY() bool { return isTerminal(s.In, &s.isInputTTY) }

// IsOutputTTY returns true if stdout is a terminal.
func (s *IOStreams) IsOutputTTY() bool { return isTerminal(s.Out, &s.isOutputTTY) }

// IsStderrTTY returns true if stderr is a terminal.
func (s *IOStreams) IsStderrTTY() bool { return isTerminal(s.ErrOut, &s.isStderrTTY) }

// IsInteractive returns true if both stdin and stdout are terminals.
func (s *IOStreams) IsInteractive() bool {
	return s.IsInputTTY() && s.IsOutputTTY()
}

// SetOutputTTY overrides TTY detection for stdout.
func (s *IOStreams) SetOutputTTY(tty bool) { s.isOutputTTY = boolToInt(tty) }

// SetStderrTTY overrides TTY detection for stderr.
func (s *IOStreams) SetStderrTTY(tty bool) { s.isStderrTTY = boolToInt(tty) }

// ColorEnabled returns whether color output is enabled.
func (s *IOStreams) ColorEnabled() bool {
	if s.colorEnabled == -1 {
		return s.IsStderrTTY()
	}
	return s.colorEnabled == 1
}

// SetColorEnabled explicitly enables or disables color output.
func (s *IOStreams) SetColorEnabled(enabled bool) {
	s.colorEnabled = boolToInt(enabled)
}

// ColorScheme returns a ColorScheme configured for this IOStreams.
func (s *IOStreams) ColorScheme() *ColorScheme {
	return NewColorScheme(s.ColorEnabled())
}

// TerminalWidth returns the width of stdout, or 80 if it is not a terminal.
func (s *IOStreams) TerminalWidth() int {
	if f, ok := s.Out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

// Infof writes a status line to stderr.
func (s *IOStreams) Infof(format string, a ...any) {
	fmt.Fprintf(s.ErrOut, format+"\n", a...)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
