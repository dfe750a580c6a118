package plugin

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the type of a descriptor argument
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindBoxSize
	KindInts
	KindChoice
)

var kindNames = map[Kind]string{
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindBoxSize: "boxsize",
	KindInts:    "ints",
	KindChoice:  "choice",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a kind name back to its Kind
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown argument kind %q", name)
}

// Field declares one argument of a plugin type.
//
// Positional fields are filled by bare tokens in declaration order and are
// required unless they carry a Default. Flag fields are filled by
// "--name VALUE" tokens and are optional unless Required is set.
type Field struct {
	Name     string
	Kind     Kind
	Help     string
	Flag     bool
	Required bool
	Default  any
	Choices  []string
}

// Optional reports whether the field may be omitted from a descriptor
func (f Field) Optional() bool {
	if f.Flag {
		return !f.Required
	}
	return f.Default != nil
}

// Schema is the ordered argument list of a plugin type
type Schema struct {
	Fields []Field
}

// NewSchema creates a schema from fields
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Positionals returns the positional fields in declaration order
func (s Schema) Positionals() []Field {
	var out []Field
	for _, f := range s.Fields {
		if !f.Flag {
			out = append(out, f)
		}
	}
	return out
}

// Flags returns the flag fields in declaration order
func (s Schema) Flags() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Flag {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field by name
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) flag(name string) (Field, bool) {
	f, ok := s.Field(name)
	if !ok || !f.Flag {
		return Field{}, false
	}
	return f, true
}

// Validate checks the schema itself is well formed
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	optionalSeen := false
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if strings.ContainsAny(f.Name, ": =") || strings.HasPrefix(f.Name, "-") {
			return fmt.Errorf("field name %q may not contain ':', '=', spaces or a leading '-'", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		if _, ok := kindNames[f.Kind]; !ok {
			return fmt.Errorf("field %q has unknown kind %d", f.Name, int(f.Kind))
		}
		if f.Kind == KindChoice && len(f.Choices) == 0 {
			return fmt.Errorf("choice field %q declares no choices", f.Name)
		}
		if !f.Flag {
			if f.Kind == KindBool {
				return fmt.Errorf("bool field %q must be a flag", f.Name)
			}
			if f.Optional() {
				optionalSeen = true
			} else if optionalSeen {
				return fmt.Errorf("required positional %q follows an optional one", f.Name)
			}
		}
		if f.Default != nil {
			if err := checkValue(f, f.Default); err != nil {
				return fmt.Errorf("default of %q: %w", f.Name, err)
			}
		}
	}
	return nil
}

// checkValue verifies v has the Go type produced for the field's kind
func checkValue(f Field, v any) error {
	want := map[Kind]reflect.Type{
		KindString:  reflect.TypeOf(""),
		KindInt:     reflect.TypeOf(0),
		KindFloat:   reflect.TypeOf(0.0),
		KindBool:    reflect.TypeOf(false),
		KindBoxSize: reflect.TypeOf([3]float64{}),
		KindInts:    reflect.TypeOf([]int(nil)),
		KindChoice:  reflect.TypeOf(""),
	}[f.Kind]
	if reflect.TypeOf(v) != want {
		return fmt.Errorf("want %s value, got %T", f.Kind, v)
	}
	if f.Kind == KindChoice && !contains(f.Choices, v.(string)) {
		return fmt.Errorf("%q is not one of %s", v, strings.Join(f.Choices, ", "))
	}
	return nil
}

// convert parses a token into the Go value for the field's kind
func convert(f Field, token string) (any, error) {
	switch f.Kind {
	case KindString:
		return token, nil
	case KindInt:
		v, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", token)
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", token)
		}
		return v, nil
	case KindBool:
		v, err := strconv.ParseBool(strings.TrimSpace(token))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", token)
		}
		return v, nil
	case KindBoxSize:
		return ParseBoxSize(token)
	case KindInts:
		words := strings.Fields(token)
		if len(words) == 0 {
			return nil, fmt.Errorf("expected at least one integer")
		}
		out := make([]int, len(words))
		for i, w := range words {
			v, err := strconv.Atoi(w)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", w)
			}
			out[i] = v
		}
		return out, nil
	case KindChoice:
		if !contains(f.Choices, token) {
			return nil, fmt.Errorf("%q is not one of %s", token, strings.Join(f.Choices, ", "))
		}
		return token, nil
	}
	return nil, fmt.Errorf("unsupported kind %s", f.Kind)
}

// formatValue renders a value so that convert reads it back
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	case [3]float64:
		return FormatBoxSize(x)
	case []int:
		words := make([]string, len(x))
		for i, n := range x {
			words[i] = strconv.Itoa(n)
		}
		return strings.Join(words, " ")
	}
	return fmt.Sprint(v)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
