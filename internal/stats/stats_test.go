package stats

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/mesh"
	"github.com/particlekit/particlekit/internal/particle"
)

func TestParseAxis(t *testing.T) {
	for i, name := range []string{"x", "y", "z"} {
		axis, err := ParseAxis(name)
		require.NoError(t, err)
		assert.Equal(t, i, axis)
		assert.Equal(t, name, AxisName(axis))
	}
	_, err := ParseAxis("w")
	assert.Error(t, err)
}

func TestProfile1D_SingleRank(t *testing.T) {
	slab, err := mesh.NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{2, 2, 2})
	require.NoError(t, err)
	require.NoError(t, slab.Paint([]particle.Vec3{{0.5, 0.5, 0.5}, {0.5, 1.5, 0.5}, {1.5, 0.5, 1.5}, {1.5, 1.5, 1.5}}, []float64{1, 1, 1, 5}))

	p, err := Profile1D(context.Background(), slab, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, p.Centers)
	assert.Equal(t, []float64{2, 6}, p.Weight)
	// bins are 2x1x2 volumes
	assert.Equal(t, []float64{0.5, 1.5}, p.Density)
	// mean density is 8/8
	assert.Equal(t, []float64{-0.5, 0.5}, p.Delta)
}

func TestProfile1D_EmptyFieldHasZeroContrast(t *testing.T) {
	slab, err := mesh.NewSlab(comm.NewSelf(), [3]int{3, 1, 1}, [3]float64{1, 1, 1})
	require.NoError(t, err)
	p, err := Profile1D(context.Background(), slab, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, p.Delta)

	_, err = Profile1D(context.Background(), slab, 3)
	assert.Error(t, err)
}

func TestProject2D_AcrossRanks(t *testing.T) {
	const size = 2
	members := comm.NewLocal(size)
	projections := make([]*Projection, size)
	errs := make([]error, size)

	var wg sync.WaitGroup
	for r, g := range members {
		wg.Add(1)
		go func(r int, g comm.Group) {
			defer wg.Done()
			slab, err := mesh.NewSlab(g, [3]int{2, 2, 1}, [3]float64{2, 2, 1})
			if err != nil {
				errs[r] = err
				return
			}
			// each rank paints one particle into its own x plane
			x := float64(r) + 0.5
			if err := slab.Paint([]particle.Vec3{{x, 0.5, 0.5}}, []float64{float64(r + 1)}); err != nil {
				errs[r] = err
				return
			}
			projections[r], errs[r] = Project2D(context.Background(), slab, 2)
		}(r, g)
	}
	wg.Wait()

	for r := 0; r < size; r++ {
		require.NoError(t, errs[r])
		p := projections[r]
		assert.Equal(t, [2]int{0, 1}, p.Plane)
		assert.Equal(t, [2]int{2, 2}, p.Shape)
		assert.Equal(t, []float64{1, 0, 2, 0}, p.Density)
	}
}
