// Package output formats user-facing CLI messages. Icons are printed
// only when the destination is a terminal, so piped output stays plain.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Writer prints status lines for CLI commands. Write errors are
// ignored, console output is best effort.
type Writer struct {
	out io.Writer
	tty bool
}

// New creates a Writer over out, detecting whether it is a terminal.
func New(out io.Writer) *Writer {
	w := &Writer{out: out}
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		w.tty = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return w
}

// Status prints one line. An empty icon indents the line under the
// previous status; on non-terminals the icon is dropped.
func (w *Writer) Status(icon, msg string) {
	switch {
	case icon == "":
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	case w.tty:
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	default:
		_, _ = fmt.Fprintf(w.out, "%s\n", msg)
	}
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a completion message.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted completion message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a non-fatal problem.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted non-fatal problem.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
