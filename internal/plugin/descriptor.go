package plugin

import (
	"reflect"
	"strings"
)

// Separator delimits the tokens of a descriptor
const Separator = ":"

// Args holds the schema-validated argument values of a descriptor
type Args map[string]any

// Has reports whether name has a value
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a string argument, or "" when absent
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Int returns an int argument, or 0 when absent
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// Float returns a float argument, or 0 when absent
func (a Args) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

// Bool returns a bool argument, or false when absent
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// BoxSize returns a box size argument
func (a Args) BoxSize(name string) [3]float64 {
	v, _ := a[name].([3]float64)
	return v
}

// Ints returns an int list argument
func (a Args) Ints(name string) []int {
	v, _ := a[name].([]int)
	return v
}

// Descriptor is a parsed plugin descriptor. It keeps the string it was parsed
// from; two descriptors are equal exactly when those strings are equal.
type Descriptor struct {
	raw  string
	Tag  string
	Args Args
}

// String returns the original descriptor string
func (d *Descriptor) String() string {
	return d.raw
}

// Equal compares descriptors by their original strings, not by their fields
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.raw == other.raw
}

// MarshalText serializes the descriptor as its original string
func (d *Descriptor) MarshalText() ([]byte, error) {
	return []byte(d.raw), nil
}

// SameFields reports whether two descriptors carry the same tag and argument values
func (d *Descriptor) SameFields(other *Descriptor) bool {
	return d.Tag == other.Tag && reflect.DeepEqual(d.Args, other.Args)
}

// parseDescriptor splits s and validates the arguments against schema.
// The tag must already have been resolved by the caller.
func parseDescriptor(s string, schema Schema) (*Descriptor, error) {
	tokens := strings.Split(s, Separator)
	args, err := schema.parseTokens(s, tokens[1:])
	if err != nil {
		return nil, err
	}
	return &Descriptor{raw: s, Tag: tokens[0], Args: args}, nil
}

func (s Schema) parseTokens(descriptor string, tokens []string) (Args, error) {
	args := Args{}
	positionals := s.Positionals()
	next := 0

	for _, tok := range tokens {
		if strings.HasPrefix(tok, "--") {
			name, value, hasValue := splitFlag(tok[2:])
			f, ok := s.flag(name)
			if !ok {
				return nil, newArgumentError(descriptor, name, "unknown flag")
			}
			if args.Has(f.Name) {
				return nil, newArgumentError(descriptor, f.Name, "given more than once")
			}
			if !hasValue {
				if f.Kind != KindBool {
					return nil, newArgumentError(descriptor, f.Name, "expected a %s value", f.Kind)
				}
				args[f.Name] = true
				continue
			}
			v, err := convert(f, value)
			if err != nil {
				return nil, newArgumentError(descriptor, f.Name, "%v", err)
			}
			args[f.Name] = v
			continue
		}

		if next >= len(positionals) {
			return nil, newArgumentError(descriptor, "", "unrecognized trailing argument %q", tok)
		}
		f := positionals[next]
		next++
		v, err := convert(f, tok)
		if err != nil {
			return nil, newArgumentError(descriptor, f.Name, "%v", err)
		}
		args[f.Name] = v
	}

	for _, f := range positionals[next:] {
		if !f.Optional() {
			return nil, newArgumentError(descriptor, f.Name, "required argument missing")
		}
		args[f.Name] = f.Default
	}
	for _, f := range s.Flags() {
		if args.Has(f.Name) {
			continue
		}
		if !f.Optional() {
			return nil, newArgumentError(descriptor, f.Name, "required flag --%s missing", f.Name)
		}
		if f.Default != nil {
			args[f.Name] = f.Default
		}
	}
	return args, nil
}

// splitFlag separates "name VALUE" or "name=VALUE"
func splitFlag(s string) (name, value string, hasValue bool) {
	i := strings.IndexAny(s, " =")
	if i < 0 {
		return s, "", false
	}
	return s[:i], strings.TrimLeft(s[i+1:], " "), true
}

// Format renders tag and args as a canonical descriptor string: positionals in
// declaration order, then required flags and flags whose values differ from
// their defaults. Parsing the result yields the same fields.
func Format(tag string, schema Schema, args Args) string {
	tokens := []string{tag}
	for _, f := range schema.Positionals() {
		v, ok := args[f.Name]
		if !ok {
			break
		}
		tokens = append(tokens, formatValue(v))
	}
	for _, f := range schema.Flags() {
		v, ok := args[f.Name]
		if !ok || (!f.Required && f.Default != nil && reflect.DeepEqual(v, f.Default)) {
			continue
		}
		if b, isBool := v.(bool); isBool && b {
			tokens = append(tokens, "--"+f.Name)
			continue
		}
		tokens = append(tokens, "--"+f.Name+" "+formatValue(v))
	}
	return strings.Join(tokens, Separator)
}
