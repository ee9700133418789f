// Package output renders command results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format is an output format selected with -o.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Render writes data in format f. Table output is delegated to table, which
// receives w; a nil table falls back to JSON.
func Render(w io.Writer, f Format, data any, table func(io.Writer) error) error {
	switch f {
	case FormatJSON:
		return PrintJSON(w, data)
	case FormatYAML:
		return PrintYAML(w, data)
	case FormatTable:
		if table == nil {
			return PrintJSON(w, data)
		}
		return table(w)
	default:
		return fmt.Errorf("unknown format: %s", f)
	}
}

// Printer writes status lines, colored when enabled.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

// DefaultPrinter writes colored lines to stdout.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, true)
}

// Success prints msg in green.
func (p *Printer) Success(msg string) { p.line("32", msg) }

// Error prints msg in red.
func (p *Printer) Error(msg string) { p.line("31", msg) }

// Warning prints msg in yellow.
func (p *Printer) Warning(msg string) { p.line("33", msg) }

func (p *Printer) line(color, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[%sm%s\033[0m\n", color, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
