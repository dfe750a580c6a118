// Package stats computes summary statistics from a painted mesh. Every
// function is collective over the mesh's group and returns the same result on
// every rank.
package stats

import (
	"context"
	"fmt"

	"github.com/particlekit/particlekit/internal/comm"
)

// Field is a painted mesh sharded into x-slabs
type Field interface {
	Group() comm.Group
	Nmesh() [3]int
	BoxSize() [3]float64
	LocalRange() (x0, x1 int)
	Values() []float64
}

var axisNames = [3]string{"x", "y", "z"}

// ParseAxis converts "x", "y" or "z" to an axis index
func ParseAxis(s string) (int, error) {
	for i, name := range axisNames {
		if s == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q: expected x, y or z", s)
}

// AxisName returns the name of axis i
func AxisName(i int) string {
	return axisNames[i]
}

// Profile is the 1-D density profile of a field along one axis
type Profile struct {
	Axis    int
	Centers []float64
	// Weight is the total weight painted in each bin
	Weight []float64
	// Density is Weight divided by the bin volume
	Density []float64
	// Delta is the density contrast relative to the mean density
	Delta []float64
}

// Projection is the density of a field projected along one axis onto the
// plane of the other two
type Projection struct {
	Axis  int
	Plane [2]int
	Shape [2]int
	// Centers holds the bin centres of the two plane axes
	Centers [2][]float64
	// Density is row-major with Shape[0] rows
	Density []float64
}

// forEachLocal calls fn with the global index and value of every local cell
func forEachLocal(f Field, fn func(idx [3]int, v float64)) {
	n := f.Nmesh()
	x0, _ := f.LocalRange()
	for i, v := range f.Values() {
		iz := i % n[2]
		iy := (i / n[2]) % n[1]
		ix := x0 + i/(n[1]*n[2])
		fn([3]int{ix, iy, iz}, v)
	}
}

func centers(n int, length float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = length * (float64(i) + 0.5) / float64(n)
	}
	return out
}

// Profile1D bins the field along axis
func Profile1D(ctx context.Context, f Field, axis int) (*Profile, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("axis %d out of range", axis)
	}
	n := f.Nmesh()
	box := f.BoxSize()

	local := make([]float64, n[axis])
	forEachLocal(f, func(idx [3]int, v float64) {
		local[idx[axis]] += v
	})
	weight, err := f.Group().Allreduce(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	binVolume := box[0] * box[1] * box[2] / float64(n[axis])
	var total float64
	for _, w := range weight {
		total += w
	}
	mean := total / (box[0] * box[1] * box[2])

	p := &Profile{
		Axis:    axis,
		Centers: centers(n[axis], box[axis]),
		Weight:  weight,
		Density: make([]float64, n[axis]),
		Delta:   make([]float64, n[axis]),
	}
	for i, w := range weight {
		p.Density[i] = w / binVolume
		if mean > 0 {
			p.Delta[i] = p.Density[i]/mean - 1
		}
	}
	return p, nil
}

// Project2D sums the field along axis and returns the surface density on the
// remaining plane
func Project2D(ctx context.Context, f Field, axis int) (*Projection, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("axis %d out of range", axis)
	}
	n := f.Nmesh()
	box := f.BoxSize()

	var plane [2]int
	k := 0
	for d := 0; d < 3; d++ {
		if d != axis {
			plane[k] = d
			k++
		}
	}
	rows, cols := n[plane[0]], n[plane[1]]

	local := make([]float64, rows*cols)
	forEachLocal(f, func(idx [3]int, v float64) {
		local[idx[plane[0]]*cols+idx[plane[1]]] += v
	})
	sums, err := f.Group().Allreduce(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}

	area := box[plane[0]] / float64(rows) * box[plane[1]] / float64(cols)
	for i := range sums {
		sums[i] /= area
	}

	return &Projection{
		Axis:    axis,
		Plane:   plane,
		Shape:   [2]int{rows, cols},
		Centers: [2][]float64{centers(rows, box[plane[0]]), centers(cols, box[plane[1]])},
		Density: sums,
	}, nil
}
