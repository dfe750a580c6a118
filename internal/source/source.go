// Package source holds the particle source extension point and the builtin
// source types. Builtins register themselves from init; plugin files add more
// at start-up through the loader.
package source

import (
	"context"
	"io"

	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
)

// Registry is the extension point every particle source registers with
var Registry = plugin.NewExtensionPoint[particle.Source]("Source")

// Build parses a source descriptor and constructs the source
func Build(descriptor string, env *plugin.Env) (particle.Source, error) {
	return Registry.Build(descriptor, env)
}

// Common flags shared by the builtin sources
var chunkSizeField = plugin.Field{
	Name:    "chunksize",
	Kind:    plugin.KindInt,
	Flag:    true,
	Default: 100000,
	Help:    "maximum number of particles per chunk",
}

// fillFunc produces at most n particles for the next chunk. It returns an
// empty chunk once the rank's data is exhausted.
type fillFunc func(ctx context.Context, n int) (particle.Chunk, error)

// paddedReader yields exactly count chunks. When a rank runs out of data
// before the others it keeps yielding empty chunks so every rank issues the
// same number of collective calls.
type paddedReader struct {
	count     int
	chunkSize int
	index     int
	fill      fillFunc
	closer    io.Closer
}

func (r *paddedReader) Next(ctx context.Context) (particle.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return particle.Chunk{}, err
	}
	if r.index >= r.count {
		return particle.Chunk{}, io.EOF
	}
	r.index++
	return r.fill(ctx, r.chunkSize)
}

func (r *paddedReader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
