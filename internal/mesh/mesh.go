// Package mesh defines the mesh collaborator the painting pipeline paints into,
// and provides Slab, a reference implementation sharded into x-slabs.
package mesh

import (
	"context"
	"errors"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/particle"
)

// ErrNotOwned is returned when painting a position outside the local slab
var ErrNotOwned = errors.New("position is not owned by this rank")

// Layout redistributes per-particle arrays according to a decomposition.
// Both methods are collective and must be given arrays in the order the
// positions were decomposed.
type Layout interface {
	ExchangePositions(ctx context.Context, positions []particle.Vec3) ([]particle.Vec3, error)
	Exchange(ctx context.Context, values []float64) ([]float64, error)
}

// Mesh is a global field of fixed shape, sharded across a process group.
//
// Decompose, the Layout methods and Allreduce are collective. Paint only
// touches the local shard and accumulates; it never overwrites a cell.
type Mesh interface {
	Group() comm.Group
	// Zero clears the local shard
	Zero()
	// Decompose computes the owning rank of every position
	Decompose(ctx context.Context, positions []particle.Vec3) (Layout, error)
	// Paint deposits weights at positions into the local shard; nil weights
	// mean unit weight per position
	Paint(positions []particle.Vec3, weights []float64) error
	// Allreduce sums v across the group
	Allreduce(ctx context.Context, v float64) (float64, error)
}
