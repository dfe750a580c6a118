package source

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
)

// Uniform generates particles uniformly distributed in a periodic box. The
// stream of each rank is seeded from the descriptor seed and the rank.
type Uniform struct {
	N         int
	BoxSize   [3]float64
	Seed      int
	Mass      float64
	HasMass   bool
	ChunkSize int
}

func init() {
	Registry.MustRegister(plugin.Entry[particle.Source]{
		Tag:  "uniform",
		Help: "particles drawn uniformly at random inside the box",
		Schema: plugin.NewSchema(
			plugin.Field{Name: "N", Kind: plugin.KindInt, Help: "total number of particles"},
			plugin.Field{Name: "BoxSize", Kind: plugin.KindBoxSize, Help: "box size, one value or three"},
			plugin.Field{Name: "seed", Kind: plugin.KindInt, Flag: true, Default: 42, Help: "random seed"},
			plugin.Field{Name: "mass", Kind: plugin.KindFloat, Flag: true, Help: "mass of every particle; unit weight when omitted"},
			chunkSizeField,
		),
		New: newUniform,
	})
}

func newUniform(d *plugin.Descriptor, env *plugin.Env) (particle.Source, error) {
	u := &Uniform{
		N:         d.Args.Int("N"),
		BoxSize:   d.Args.BoxSize("BoxSize"),
		Seed:      d.Args.Int("seed"),
		HasMass:   d.Args.Has("mass"),
		Mass:      d.Args.Float("mass"),
		ChunkSize: d.Args.Int("chunksize"),
	}
	if u.N < 0 {
		return nil, fmt.Errorf("N must not be negative, got %d", u.N)
	}
	if u.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunksize must be positive, got %d", u.ChunkSize)
	}
	return u, nil
}

// Read yields this rank's share of the N particles
func (u *Uniform) Read(ctx context.Context, fields []string, group comm.Group) (particle.ChunkReader, error) {
	start, end := particle.Partition(u.N, group.Rank(), group.Size())
	remaining := end - start
	rng := rand.New(rand.NewPCG(uint64(u.Seed), uint64(group.Rank())))
	withMass := u.HasMass && particle.Wants(fields, particle.FieldMass)

	fill := func(ctx context.Context, n int) (particle.Chunk, error) {
		if n > remaining {
			n = remaining
		}
		remaining -= n

		chunk := particle.Chunk{Position: make([]particle.Vec3, n)}
		for i := range chunk.Position {
			for d := 0; d < 3; d++ {
				chunk.Position[i][d] = rng.Float64() * u.BoxSize[d]
			}
		}
		if withMass {
			chunk.Mass = make([]float64, n)
			for i := range chunk.Mass {
				chunk.Mass[i] = u.Mass
			}
		}
		return chunk, nil
	}

	return &paddedReader{
		count:     particle.ChunkCount(u.N, group.Size(), u.ChunkSize),
		chunkSize: u.ChunkSize,
		fill:      fill,
	}, nil
}
