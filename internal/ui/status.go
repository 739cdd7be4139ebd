// Package ui provides terminal output for agentlock.
// This file implements the emoji status lines printed by hooks and commands.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes status lines. Progress goes to out; warnings, blocks and
// failures go to errw. Colour is only used when the destination is a
// terminal.
type Printer struct {
	out      io.Writer
	errw     io.Writer
	outColor bool
	errColor bool
}

// NewPrinter returns a Printer writing to out and errw.
func NewPrinter(out, errw io.Writer) *Printer {
	return &Printer{
		out:      out,
		errw:     errw,
		outColor: IsTerminal(out),
		errColor: IsTerminal(errw),
	}
}

// Stdio returns a Printer on the process's stdout and stderr.
func Stdio() *Printer {
	return NewPrinter(os.Stdout, os.Stderr)
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Printer) line(w io.Writer, color bool, style lipgloss.Style, icon, msg string) {
	if w == nil {
		return
	}
	if color {
		msg = style.Render(msg)
	}
	fmt.Fprintf(w, "%s %s\n", icon, msg)
}

// Locked reports an acquired lock.
func (p *Printer) Locked(path string) {
	p.line(p.out, p.outColor, okStyle, "🔒", "Locked "+path)
}

// Released reports a released lock.
func (p *Printer) Released(path string) {
	p.line(p.out, p.outColor, dimStyle, "🔓", "Released "+path)
}

// Blocked reports a lock held by another agent.
func (p *Printer) Blocked(path, holder string) {
	msg := fmt.Sprintf("%s is locked by %s. Retry shortly.", path, holder)
	p.line(p.errw, p.errColor, failStyle, "🚫", msg)
}

// Cleaned reports expired locks removed by the janitor.
func (p *Printer) Cleaned(n int) {
	p.line(p.out, p.outColor, dimStyle, "🧹", fmt.Sprintf("Removed %d expired lock(s)", n))
}

// Warn prints a non-fatal problem.
func (p *Printer) Warn(format string, args ...any) {
	p.line(p.errw, p.errColor, warnStyle, "⚠️ ", fmt.Sprintf(format, args...))
}

// Success prints a completed action.
func (p *Printer) Success(format string, args ...any) {
	p.line(p.out, p.outColor, okStyle, "✅", fmt.Sprintf(format, args...))
}

// Failure prints a fatal problem.
func (p *Printer) Failure(format string, args ...any) {
	p.line(p.errw, p.errColor, failStyle, "❌", fmt.Sprintf(format, args...))
}
