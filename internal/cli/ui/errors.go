package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/particlekit/particlekit/internal/loader"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/storage"
)

// ErrorLevel is the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Consequence  string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError renders a message with optional suggestions and help commands:
//
//	❌ UNKNOWN SOURCE
//	   unknown Source type "unifrom" in descriptor "unifrom:100:1"
//
//	   Did you mean: uniform?
//
//	   → See all sources: particlekit plugins list
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var header, body *color.Color
	var symbol string
	switch opts.Level {
	case ErrorLevelWarning:
		header, body, symbol = color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "⚠️"
	case ErrorLevelInfo:
		header, body, symbol = color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "ℹ️"
	default:
		header, body, symbol = color.New(color.FgRed, color.Bold), color.New(color.FgRed), "❌"
	}
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	if opts.NoColor {
		for _, c := range []*color.Color{header, body, yellow, cyan} {
			c.DisableColor()
		}
	}

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s\n", symbol, strings.ToUpper(opts.Context))
		body.Fprintf(&b, "   %s\n", opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Consequence != "" {
		b.WriteString("\n")
		body.Fprintf(&b, "   %s\n", opts.Consequence)
	}
	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}
	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// WriteError writes a formatted error message to w
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// DescribeError picks the context, suggestions and help commands for the
// errors the CLI surfaces
func DescribeError(err error, noColor bool) ErrorOptions {
	opts := ErrorOptions{Level: ErrorLevelError, Problem: err.Error(), NoColor: noColor}

	var unknown *plugin.UnknownTypeError
	var argument *plugin.ArgumentError
	var duplicate *plugin.DuplicateTypeError
	var load *loader.LoadError
	var dim *storage.UnknownDimError

	switch {
	case errors.As(err, &unknown):
		opts.Context = "unknown source"
		opts.Suggestions = FindSimilar(unknown.Tag, unknown.Known)
		opts.HelpCommands = []string{"See all sources: particlekit plugins list"}
	case errors.As(err, &argument):
		tag, _, _ := strings.Cut(argument.Descriptor, ":")
		opts.Context = "invalid descriptor"
		opts.HelpCommands = []string{fmt.Sprintf("Show usage: particlekit plugins help %s", tag)}
	case errors.As(err, &load):
		opts.Context = "plugin load failed"
		opts.Consequence = "No source from " + load.Path + " was registered."
		if errors.Is(err, loader.ErrDirectoryUnsupported) {
			opts.HelpCommands = []string{"Pass each plugin file with its own --plugin flag"}
		}
	case errors.As(err, &duplicate):
		opts.Context = "duplicate source"
		opts.HelpCommands = []string{"See registered sources: particlekit plugins list"}
	case errors.As(err, &dim):
		known := make([]string, len(dim.Known))
		for i, d := range dim.Known {
			known[i] = string(d)
		}
		opts.Context = "unknown storage"
		opts.Suggestions = FindSimilar(string(dim.Dim), known)
		opts.HelpCommands = []string{"See storage backends: particlekit storage list"}
	}
	return opts
}

// FormatSuccess renders a success line
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success line to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}
