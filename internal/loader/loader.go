// Package loader loads particle source plugins written in Lua.
//
// A plugin file declares one or more sources through the host function
// source{...}. Loading a file executes it once to collect those declarations
// as registration entries; nothing is registered as a side effect. The caller
// decides where the entries go, usually source.Registry.
package loader

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
)

// ErrDirectoryUnsupported is returned when a directory is given instead of a file
var ErrDirectoryUnsupported = errors.New("loading plugins from a directory is not supported")

// LoadError reports a plugin file that failed to execute or declared an
// invalid source
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Namespace accumulates the declarations of loaded plugin files
type Namespace struct {
	mu      sync.Mutex
	files   []string
	entries []plugin.Entry[particle.Source]
}

// NewNamespace creates an empty namespace
func NewNamespace() *Namespace {
	return &Namespace{}
}

// Entries returns the registration entries declared so far, in file then
// declaration order
func (ns *Namespace) Entries() []plugin.Entry[particle.Source] {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]plugin.Entry[particle.Source], len(ns.entries))
	copy(out, ns.entries)
	return out
}

// Files returns the loaded file paths
func (ns *Namespace) Files() []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return append([]string(nil), ns.files...)
}

func (ns *Namespace) add(path string, entries []plugin.Entry[particle.Source]) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.files = append(ns.files, path)
	ns.entries = append(ns.entries, entries...)
}

// Load executes the plugin file at path and merges its declarations into ns,
// or into a fresh namespace when ns is nil. A file either contributes all of
// its declarations or none.
func Load(path string, ns *Namespace) (*Namespace, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, ErrDirectoryUnsupported)
	}

	defs, err := collect(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	entries := make([]plugin.Entry[particle.Source], 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if seen[def.tag] {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("source %q declared twice", def.tag)}
		}
		seen[def.tag] = true
		if err := def.schema.Validate(); err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("source %q: %w", def.tag, err)}
		}
		entries = append(entries, def.entry(path))
	}

	if ns == nil {
		ns = NewNamespace()
	}
	ns.add(path, entries)
	return ns, nil
}

// LoadAll loads every path into one namespace, stopping at the first failure
func LoadAll(paths []string, ns *Namespace) (*Namespace, error) {
	if ns == nil {
		ns = NewNamespace()
	}
	for _, p := range paths {
		if _, err := Load(p, ns); err != nil {
			return nil, err
		}
	}
	return ns, nil
}
