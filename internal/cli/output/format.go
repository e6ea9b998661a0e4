// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents the output format type.
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

func (f Format) String() string {
	return string(f)
}

// Printer writes results in one format. Status lines (Success, Warning) go
// to a separate writer so structured output stays parseable.
type Printer struct {
	out    io.Writer
	status io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer writing results to out and status lines to
// status.
func NewPrinter(out, status io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, status: status, format: format, color: color}
}

// DefaultPrinter writes tables to stdout and status lines to stderr.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, os.Stderr, FormatTable, true)
}

func (p *Printer) Format() Format {
	return p.format
}

// Print outputs data in the configured format. In table format, data that
// does not implement TableRenderer falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Success prints a status line in green.
func (p *Printer) Success(format string, args ...any) {
	p.statusLine("32", format, args...)
}

// Warning prints a status line in yellow.
func (p *Printer) Warning(format string, args ...any) {
	p.statusLine("33", format, args...)
}

func (p *Printer) statusLine(color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.color {
		_, _ = fmt.Fprintf(p.status, "\033[%sm%s\033[0m\n", color, msg)
		return
	}
	_, _ = fmt.Fprintln(p.status, msg)
}

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// PrintYAML writes data as YAML.
func PrintYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}
