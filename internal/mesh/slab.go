package mesh

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/particle"
)

// Slab is a periodic mesh split along x into one contiguous block of planes per
// rank. Particles are deposited with the nearest-grid-point kernel.
type Slab struct {
	group comm.Group
	nmesh [3]int
	box   [3]float64

	// starts[r] is the first x plane owned by rank r; starts[size] == nmesh[0]
	starts []int
	values []float64
}

// NewSlab creates the local shard of an nmesh-cell mesh covering box
func NewSlab(group comm.Group, nmesh [3]int, box [3]float64) (*Slab, error) {
	for d := 0; d < 3; d++ {
		if nmesh[d] < 1 {
			return nil, fmt.Errorf("mesh: nmesh must be positive on every axis, got %v", nmesh)
		}
		if !(box[d] > 0) {
			return nil, fmt.Errorf("mesh: box size must be positive on every axis, got %v", box)
		}
	}

	size := group.Size()
	starts := make([]int, size+1)
	for r := 0; r <= size; r++ {
		starts[r] = nmesh[0] * r / size
	}

	s := &Slab{
		group:  group,
		nmesh:  nmesh,
		box:    box,
		starts: starts,
	}
	x0, x1 := s.LocalRange()
	s.values = make([]float64, (x1-x0)*nmesh[1]*nmesh[2])
	return s, nil
}

// Group returns the process group the mesh is sharded over
func (s *Slab) Group() comm.Group { return s.group }

// Nmesh returns the global mesh shape
func (s *Slab) Nmesh() [3]int { return s.nmesh }

// BoxSize returns the physical extent of the mesh
func (s *Slab) BoxSize() [3]float64 { return s.box }

// LocalRange returns the half-open range of x planes owned by this rank
func (s *Slab) LocalRange() (x0, x1 int) {
	r := s.group.Rank()
	return s.starts[r], s.starts[r+1]
}

// Values returns the local shard in (x, y, z) row-major order. The slice is
// owned by the mesh.
func (s *Slab) Values() []float64 { return s.values }

// At returns the value of an owned cell
func (s *Slab) At(ix, iy, iz int) float64 {
	x0, _ := s.LocalRange()
	return s.values[((ix-x0)*s.nmesh[1]+iy)*s.nmesh[2]+iz]
}

// LocalSum returns the sum over the local shard
func (s *Slab) LocalSum() float64 {
	var total float64
	for _, v := range s.values {
		total += v
	}
	return total
}

// Zero clears the local shard
func (s *Slab) Zero() {
	for i := range s.values {
		s.values[i] = 0
	}
}

// Cell returns the periodic cell index of a position
func (s *Slab) Cell(p particle.Vec3) [3]int {
	var c [3]int
	for d := 0; d < 3; d++ {
		i := int(math.Floor(p[d] / s.box[d] * float64(s.nmesh[d])))
		i %= s.nmesh[d]
		if i < 0 {
			i += s.nmesh[d]
		}
		c[d] = i
	}
	return c
}

// Owner returns the rank owning x plane ix
func (s *Slab) Owner(ix int) int {
	// first rank whose block ends past ix
	return sort.Search(len(s.starts)-1, func(r int) bool { return s.starts[r+1] > ix })
}

// Decompose assigns every position to the rank owning its x plane and trades
// per-destination counts with the rest of the group.
func (s *Slab) Decompose(ctx context.Context, positions []particle.Vec3) (Layout, error) {
	size := s.group.Size()
	dest := make([]int, len(positions))
	sendCounts := make([]int, size)
	for i, p := range positions {
		owner := s.Owner(s.Cell(p)[0])
		dest[i] = owner
		sendCounts[owner]++
	}

	send := make([][]float64, size)
	for r, n := range sendCounts {
		send[r] = []float64{float64(n)}
	}
	recv, err := s.group.Alltoall(ctx, send)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	recvCounts := make([]int, size)
	for r, buf := range recv {
		if len(buf) != 1 {
			return nil, fmt.Errorf("decompose: malformed count from rank %d", r)
		}
		recvCounts[r] = int(buf[0])
	}

	return &slabLayout{
		group:      s.group,
		dest:       dest,
		sendCounts: sendCounts,
		recvCounts: recvCounts,
	}, nil
}

// Paint deposits weights at positions into the local shard
func (s *Slab) Paint(positions []particle.Vec3, weights []float64) error {
	if weights != nil && len(weights) != len(positions) {
		return fmt.Errorf("paint: %d positions but %d weights", len(positions), len(weights))
	}
	x0, x1 := s.LocalRange()
	for i, p := range positions {
		c := s.Cell(p)
		if c[0] < x0 || c[0] >= x1 {
			return fmt.Errorf("paint: %w: %v in plane %d, local planes [%d, %d)", ErrNotOwned, p, c[0], x0, x1)
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		s.values[((c[0]-x0)*s.nmesh[1]+c[1])*s.nmesh[2]+c[2]] += w
	}
	return nil
}

// Allreduce sums v across the group
func (s *Slab) Allreduce(ctx context.Context, v float64) (float64, error) {
	return comm.SumFloat64(ctx, s.group, v)
}

type slabLayout struct {
	group      comm.Group
	dest       []int
	sendCounts []int
	recvCounts []int
}

// exchange moves width floats per particle to its owner
func (l *slabLayout) exchange(ctx context.Context, flat []float64, width int) ([]float64, error) {
	if len(flat) != width*len(l.dest) {
		return nil, fmt.Errorf("exchange: got %d values for %d decomposed positions", len(flat)/width, len(l.dest))
	}

	send := make([][]float64, len(l.sendCounts))
	for r, n := range l.sendCounts {
		send[r] = make([]float64, 0, n*width)
	}
	for i, r := range l.dest {
		send[r] = append(send[r], flat[i*width:(i+1)*width]...)
	}

	recv, err := l.group.Alltoall(ctx, send)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}

	total := 0
	for r, buf := range recv {
		if len(buf) != l.recvCounts[r]*width {
			return nil, fmt.Errorf("exchange: rank %d sent %d values, expected %d", r, len(buf), l.recvCounts[r]*width)
		}
		total += len(buf)
	}
	out := make([]float64, 0, total)
	for _, buf := range recv {
		out = append(out, buf...)
	}
	return out, nil
}

func (l *slabLayout) ExchangePositions(ctx context.Context, positions []particle.Vec3) ([]particle.Vec3, error) {
	flat := make([]float64, 0, 3*len(positions))
	for _, p := range positions {
		flat = append(flat, p[0], p[1], p[2])
	}
	out, err := l.exchange(ctx, flat, 3)
	if err != nil {
		return nil, err
	}
	result := make([]particle.Vec3, len(out)/3)
	for i := range result {
		result[i] = particle.Vec3{out[3*i], out[3*i+1], out[3*i+2]}
	}
	return result, nil
}

func (l *slabLayout) Exchange(ctx context.Context, values []float64) ([]float64, error) {
	return l.exchange(ctx, values, 1)
}
