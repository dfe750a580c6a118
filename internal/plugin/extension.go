// Package plugin implements extension points: named registries of plugin types
// that are instantiated from colon-delimited descriptor strings such as
//
//	plaintext:/data/halos.txt:1380:--usecols 1 2 3
//
// Implementations register themselves explicitly, usually from an init
// function, with a tag, an argument schema and a constructor.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a plugin from a parsed descriptor
type Constructor[T any] func(d *Descriptor, env *Env) (T, error)

// Entry describes one implementation of an extension point
type Entry[T any] struct {
	Tag    string
	Help   string
	Schema Schema
	New    Constructor[T]
}

// ExtensionPoint is a named contract with a growing, ordered list of
// implementations. Registration happens during start-up and plugin loading;
// lookups may happen concurrently afterwards.
type ExtensionPoint[T any] struct {
	name string

	mu      sync.RWMutex
	entries []*Entry[T]
	byTag   map[string]*Entry[T]
}

// NewExtensionPoint creates an empty extension point
func NewExtensionPoint[T any](name string) *ExtensionPoint[T] {
	return &ExtensionPoint[T]{
		name:  name,
		byTag: make(map[string]*Entry[T]),
	}
}

// Name returns the extension point name
func (p *ExtensionPoint[T]) Name() string {
	return p.name
}

// Register validates and appends an implementation. A tag that is already
// registered is rejected with a DuplicateTypeError.
func (p *ExtensionPoint[T]) Register(entry Entry[T]) error {
	if entry.Tag == "" || strings.ContainsAny(entry.Tag, ": ") || strings.HasPrefix(entry.Tag, "-") {
		return &InvalidEntryError{Point: p.name, Tag: entry.Tag, Reason: "tag must be non-empty without ':', spaces or a leading '-'"}
	}
	if entry.New == nil {
		return &InvalidEntryError{Point: p.name, Tag: entry.Tag, Reason: "no constructor"}
	}
	if err := entry.Schema.Validate(); err != nil {
		return &InvalidEntryError{Point: p.name, Tag: entry.Tag, Reason: err.Error()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byTag[entry.Tag]; exists {
		return &DuplicateTypeError{Point: p.name, Tag: entry.Tag}
	}
	e := entry
	p.entries = append(p.entries, &e)
	p.byTag[e.Tag] = &e
	return nil
}

// MustRegister registers entry and panics on failure. Call it from init so a
// broken implementation aborts start-up instead of silently going missing.
func (p *ExtensionPoint[T]) MustRegister(entry Entry[T]) {
	if err := p.Register(entry); err != nil {
		panic(err)
	}
}

// RegisterAll registers entries in order and reports every failure
func (p *ExtensionPoint[T]) RegisterAll(entries []Entry[T]) error {
	var errs []error
	for _, e := range entries {
		if err := p.Register(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the entry registered under tag
func (p *ExtensionPoint[T]) Lookup(tag string) (Entry[T], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byTag[tag]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Entries returns a copy of the registered entries in registration order
func (p *ExtensionPoint[T]) Entries() []Entry[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry[T], len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// Tags returns the registered tags in registration order
func (p *ExtensionPoint[T]) Tags() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.Tag
	}
	return out
}

// Len returns the number of registered implementations
func (p *ExtensionPoint[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Parse resolves the tag of s and validates its arguments
func (p *ExtensionPoint[T]) Parse(s string) (*Descriptor, error) {
	tag, _, _ := strings.Cut(s, Separator)
	entry, ok := p.Lookup(tag)
	if !ok {
		known := p.Tags()
		sort.Strings(known)
		return nil, &UnknownTypeError{Point: p.name, Tag: tag, Descriptor: s, Known: known}
	}
	return parseDescriptor(s, entry.Schema)
}

// Build parses s and constructs the plugin it describes
func (p *ExtensionPoint[T]) Build(s string, env *Env) (T, error) {
	var zero T
	d, err := p.Parse(s)
	if err != nil {
		return zero, err
	}
	return p.New(d, env)
}

// New constructs the plugin for an already parsed descriptor
func (p *ExtensionPoint[T]) New(d *Descriptor, env *Env) (T, error) {
	var zero T
	entry, ok := p.Lookup(d.Tag)
	if !ok {
		return zero, &UnknownTypeError{Point: p.name, Tag: d.Tag, Descriptor: d.String()}
	}
	if env == nil {
		return zero, fmt.Errorf("construct %s %q: nil environment", p.name, d.Tag)
	}
	v, err := entry.New(d, env)
	if err != nil {
		return zero, fmt.Errorf("construct %s %q: %w", p.name, d.Tag, err)
	}
	return v, nil
}

// Format renders args for tag as a canonical descriptor string
func (p *ExtensionPoint[T]) Format(tag string, args Args) (string, error) {
	entry, ok := p.Lookup(tag)
	if !ok {
		return "", &UnknownTypeError{Point: p.name, Tag: tag, Descriptor: tag}
	}
	return Format(tag, entry.Schema, args), nil
}
