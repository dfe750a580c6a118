package plugin

import (
	"fmt"
	"strings"
)

// Usage renders the usage line of a plugin type in descriptor syntax. Every
// field renders its own leading colon, so parts are joined without separators:
//
//	usage: plaintext:path:BoxSize[:--usecols USECOLS][:--rsd {x,y,z}]
func (s Schema) Usage(tag string) string {
	var b strings.Builder
	b.WriteString("usage: ")
	b.WriteString(tag)
	for _, f := range s.Positionals() {
		if f.Optional() {
			fmt.Fprintf(&b, "[:%s]", f.Name)
		} else {
			fmt.Fprintf(&b, ":%s", f.Name)
		}
	}
	for _, f := range s.Flags() {
		part := "--" + f.Name
		if f.Kind != KindBool {
			part += " " + metavar(f)
		}
		if f.Optional() {
			fmt.Fprintf(&b, "[:%s]", part)
		} else {
			fmt.Fprintf(&b, ":%s", part)
		}
	}
	return b.String()
}

func metavar(f Field) string {
	if f.Kind == KindChoice {
		return "{" + strings.Join(f.Choices, ",") + "}"
	}
	return strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
}

// Help renders the usage line followed by one line per argument
func (s Schema) Help(tag, description string) string {
	var b strings.Builder
	b.WriteString(s.Usage(tag))
	b.WriteString("\n")
	if description != "" {
		b.WriteString("\n")
		b.WriteString(description)
		b.WriteString("\n")
	}

	section := func(title string, fields []Field, label func(Field) string) {
		if len(fields) == 0 {
			return
		}
		width := 0
		for _, f := range fields {
			if n := len(label(f)); n > width {
				width = n
			}
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, f := range fields {
			line := fmt.Sprintf("  %-*s  %s", width, label(f), f.Help)
			if f.Default != nil {
				line += fmt.Sprintf(" (default: %s)", formatValue(f.Default))
			}
			b.WriteString(strings.TrimRight(line, " "))
			b.WriteString("\n")
		}
	}

	section("positional arguments", s.Positionals(), func(f Field) string { return f.Name })
	section("optional arguments", s.Flags(), func(f Field) string {
		if f.Kind == KindBool {
			return "--" + f.Name
		}
		return "--" + f.Name + " " + metavar(f)
	})
	return b.String()
}

// Usage returns the help text of one registered type
func (p *ExtensionPoint[T]) Usage(tag string) (string, error) {
	entry, ok := p.Lookup(tag)
	if !ok {
		return "", &UnknownTypeError{Point: p.name, Tag: tag, Descriptor: tag}
	}
	return entry.Schema.Help(entry.Tag, entry.Help), nil
}

// Help returns the help text of every registered type in registration order
func (p *ExtensionPoint[T]) Help() string {
	entries := p.Entries()
	if len(entries) == 0 {
		return fmt.Sprintf("No available %s types", p.name)
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Schema.Help(e.Tag, e.Help)
	}
	return strings.Join(parts, "\n")
}
