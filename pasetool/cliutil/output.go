package cliutil

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// colorEnabled reports whether stdout is an interactive terminal.
var colorEnabled = term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

func colorize(s string, colors text.Colors) string {
	if !colorEnabled {
		return s
	}
	return colors.Sprint(s)
}

func Bold(s string) string    { return colorize(s, text.Colors{text.Bold}) }
func ID(s string) string      { return colorize(s, text.Colors{text.FgCyan}) }
func Success(s string) string { return colorize(s, text.Colors{text.FgGreen}) }
func Error(s string) string   { return colorize(s, text.Colors{text.FgRed}) }

// NewTable returns a table writing to w in the CLI's style.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	if colorEnabled {
		t.Style().Color.Header = text.Colors{text.Bold}
	}
	return t
}

// StatusRowPainter colors rows by the HTTP status found in column col.
func StatusRowPainter(col int) table.RowPainter {
	return func(row table.Row) text.Colors {
		if !colorEnabled || col >= len(row) {
			return nil
		}
		status, ok := row[col].(int)
		if !ok {
			return nil
		}
		switch {
		case status >= 500:
			return text.Colors{text.FgRed}
		case status >= 400:
			return text.Colors{text.FgYellow}
		case status >= 300:
			return text.Colors{text.FgCyan}
		case status == 0:
			return text.Colors{text.Faint}
		}
		return nil
	}
}

// Summary prints a count line such as "3 flows".
func Summary(w io.Writer, n int, singular, plural string) {
	noun := plural
	if n == 1 {
		noun = singular
	}
	_, _ = fmt.Fprintf(w, "\n%d %s\n", n, noun)
}

func NoResults(w io.Writer, message string) {
	_, _ = fmt.Fprintln(w, colorize(message, text.Colors{text.Faint}))
}

func Hint(w io.Writer, message string) {
	_, _ = fmt.Fprintln(w, colorize(message, text.Colors{text.Faint}))
}

// HintCommand prints a follow-up command the user is likely to run next.
func HintCommand(w io.Writer, label, command string) {
	_, _ = fmt.Fprintf(w, "%s: %s\n", colorize(label, text.Colors{text.Faint}), Bold(command))
}
