// Package storage resolves output backends by dimensionality and gives them a
// scoped output stream that is always released.
package storage

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/particlekit/particlekit/internal/particle"
)

// ErrNotImplemented is returned by backends that cannot write
var ErrNotImplemented = particle.ErrNotImplemented

// Dim is the dimensionality key a backend is registered under
type Dim string

const (
	Dim1D Dim = "1d"
	Dim2D Dim = "2d"
)

// ParseDim accepts "1d"/"2d" in any case
func ParseDim(s string) Dim {
	return Dim(strings.ToLower(strings.TrimSpace(s)))
}

// Stdout is the stream used for the "-" and empty paths
var Stdout io.Writer = os.Stdout

// Dataset is the tabular payload written by a backend. For 2-D data Shape
// holds the two axis lengths and Rows holds Shape[0] blocks of Shape[1] rows.
type Dataset struct {
	Columns []string
	Rows    [][]float64
	Shape   []int
}

// Meta holds the key/value metadata written alongside a dataset
type Meta map[string]any

// Backend persists datasets to a path
type Backend interface {
	Path() string
	Open() (io.WriteCloser, error)
	WithStream(fn func(w io.Writer) error) error
	Write(data *Dataset, meta Meta) error
}

// Factory creates a backend writing to path
type Factory func(path string) Backend

// UnknownDimError is returned when no backend is registered for a dimensionality
type UnknownDimError struct {
	Dim   Dim
	Known []Dim
}

func (e *UnknownDimError) Error() string {
	known := make([]string, len(e.Known))
	for i, d := range e.Known {
		known[i] = string(d)
	}
	return fmt.Sprintf("no storage backend for dimension %q (known: %s)", e.Dim, strings.Join(known, ", "))
}

// Registry maps dimensionality keys to backend factories
type Registry struct {
	mu        sync.RWMutex
	factories map[Dim]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Dim]Factory)}
}

// Register adds a factory. Registering a dimension twice is an error.
func (r *Registry) Register(dim Dim, factory Factory) error {
	if dim == "" || factory == nil {
		return fmt.Errorf("storage: register needs a dimension and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[dim]; exists {
		return fmt.Errorf("storage: dimension %q already registered", dim)
	}
	r.factories[dim] = factory
	return nil
}

// Get creates the backend registered for dim, writing to path
func (r *Registry) Get(dim Dim, path string) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[dim]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownDimError{Dim: dim, Known: r.Dims()}
	}
	return factory(path), nil
}

// Dims lists registered dimensions in sorted order
func (r *Registry) Dims() []Dim {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dims := make([]Dim, 0, len(r.factories))
	for d := range r.factories {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	return dims
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry the builtins register with
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a factory to the process-wide registry
func Register(dim Dim, factory Factory) error {
	return defaultRegistry.Register(dim, factory)
}

// Get resolves dim in the process-wide registry
func Get(dim Dim, path string) (Backend, error) {
	return defaultRegistry.Get(dim, path)
}

// Dims lists the dimensions of the process-wide registry
func Dims() []Dim {
	return defaultRegistry.Dims()
}

// Storage provides the path handling shared by all backends. Embedders
// override Write.
type Storage struct {
	path string
}

// NewStorage creates a base storage for path
func NewStorage(path string) Storage {
	return Storage{path: path}
}

// Path returns the configured output path
func (s Storage) Path() string {
	return s.path
}

// ToStdout reports whether the path selects the standard output stream
func (s Storage) ToStdout() bool {
	return s.path == "" || s.path == "-"
}

// Open returns a stream for the output. For "-" or an empty path it is the
// standard output and closing it does nothing.
func (s Storage) Open() (io.WriteCloser, error) {
	if s.ToStdout() {
		return nopCloser{Stdout}, nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return f, nil
}

// WithStream opens the output, calls fn and closes the stream on every exit
// path, including a panic in fn. The first error wins.
func (s Storage) WithStream(fn func(w io.Writer) error) (err error) {
	stream, err := s.Open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	return fn(stream)
}

// Write reports ErrNotImplemented
func (s Storage) Write(data *Dataset, meta Meta) error {
	return ErrNotImplemented
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
