package plugin

import (
	"errors"
	"fmt"

	"github.com/particlekit/particlekit/internal/particle"
)

// ErrNotImplemented is returned by default capability implementations.
// It aliases particle.ErrNotImplemented so callers can probe either name with errors.Is.
var ErrNotImplemented = particle.ErrNotImplemented

// UnknownTypeError is returned when a descriptor names a tag nobody registered
type UnknownTypeError struct {
	Point      string
	Tag        string
	Descriptor string
	Known      []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown %s type %q in descriptor %q", e.Point, e.Tag, e.Descriptor)
}

// ArgumentError is returned when descriptor arguments fail schema validation
type ArgumentError struct {
	Descriptor string
	Field      string
	Reason     string
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid descriptor %q: %s", e.Descriptor, e.Reason)
	}
	return fmt.Sprintf("invalid descriptor %q: argument %s: %s", e.Descriptor, e.Field, e.Reason)
}

// DuplicateTypeError is returned when a tag is registered twice on one extension point
type DuplicateTypeError struct {
	Point string
	Tag   string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("%s type %q is already registered", e.Point, e.Tag)
}

// InvalidEntryError is returned when an entry cannot be registered
type InvalidEntryError struct {
	Point  string
	Tag    string
	Reason string
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("cannot register %s type %q: %s", e.Point, e.Tag, e.Reason)
}

// IsUnknownType reports whether err is (or wraps) an UnknownTypeError
func IsUnknownType(err error) bool {
	var target *UnknownTypeError
	return errors.As(err, &target)
}

// IsArgumentError reports whether err is (or wraps) an ArgumentError
func IsArgumentError(err error) bool {
	var target *ArgumentError
	return errors.As(err, &target)
}

// IsDuplicateType reports whether err is (or wraps) a DuplicateTypeError
func IsDuplicateType(err error) bool {
	var target *DuplicateTypeError
	return errors.As(err, &target)
}

func newArgumentError(descriptor, field, format string, args ...interface{}) *ArgumentError {
	return &ArgumentError{
		Descriptor: descriptor,
		Field:      field,
		Reason:     fmt.Sprintf(format, args...),
	}
}
