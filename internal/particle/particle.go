// Package particle defines the particle data exchanged between sources and the
// painting pipeline: chunks of same-length field arrays yielded lazily by a Source.
package particle

import (
	"context"
	"errors"
	"fmt"

	"github.com/particlekit/particlekit/internal/comm"
)

// Field names understood by sources and the pipeline
const (
	FieldPosition = "Position"
	FieldMass     = "Mass"
	FieldVelocity = "Velocity"
)

var (
	// ErrNotImplemented signals a capability the implementation does not provide.
	// It is distinguishable from a runtime failure so callers can probe support.
	ErrNotImplemented = errors.New("not implemented")

	// ErrChunkShape is returned when a chunk carries field arrays of different lengths
	ErrChunkShape = errors.New("chunk fields have mismatched lengths")
)

// Vec3 is a position or velocity in three dimensions
type Vec3 [3]float64

// Chunk is one batch of particle data. A nil Mass means every particle
// carries unit weight.
type Chunk struct {
	Position []Vec3
	Mass     []float64
}

// Len returns the number of particles in the chunk
func (c Chunk) Len() int {
	return len(c.Position)
}

// Validate checks that all present fields have the same length
func (c Chunk) Validate() error {
	if c.Mass != nil && len(c.Mass) != len(c.Position) {
		return fmt.Errorf("%w: %d positions, %d masses", ErrChunkShape, len(c.Position), len(c.Mass))
	}
	return nil
}

// Weight returns the total weight carried by the chunk
func (c Chunk) Weight() float64 {
	if c.Mass == nil {
		return float64(len(c.Position))
	}
	var total float64
	for _, m := range c.Mass {
		total += m
	}
	return total
}

// Source is the contract every particle data source implements.
//
// Read returns a lazy, finite, non-restartable sequence of chunks holding the
// requested fields. Sources decide how to split the global data among the
// members of group, but every member must yield the same number of chunks:
// the pipeline issues collective calls per chunk.
type Source interface {
	Read(ctx context.Context, fields []string, group comm.Group) (ChunkReader, error)
}

// BaseSource can be embedded by sources that do not support reading yet
type BaseSource struct{}

// Read always reports ErrNotImplemented
func (BaseSource) Read(ctx context.Context, fields []string, group comm.Group) (ChunkReader, error) {
	return nil, ErrNotImplemented
}

// Wants reports whether field is among the requested fields
func Wants(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
