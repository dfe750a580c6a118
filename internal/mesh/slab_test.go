package mesh

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/particle"
)

// runRanks runs fn once per member of an in-process group of the given size
func runRanks(t *testing.T, size int, fn func(g comm.Group) error) {
	t.Helper()
	members := comm.NewLocal(size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r, g := range members {
		wg.Add(1)
		go func(r int, g comm.Group) {
			defer wg.Done()
			errs[r] = fn(g)
		}(r, g)
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
}

func TestNewSlab_Validation(t *testing.T) {
	g := comm.NewSelf()
	_, err := NewSlab(g, [3]int{0, 4, 4}, [3]float64{1, 1, 1})
	assert.Error(t, err)
	_, err = NewSlab(g, [3]int{4, 4, 4}, [3]float64{1, 0, 1})
	assert.Error(t, err)

	s, err := NewSlab(g, [3]int{4, 2, 3}, [3]float64{1, 1, 1})
	require.NoError(t, err)
	assert.Len(t, s.Values(), 24)
}

func TestSlab_LocalRangesCoverMesh(t *testing.T) {
	members := comm.NewLocal(3)
	next := 0
	for _, g := range members {
		s, err := NewSlab(g, [3]int{8, 2, 2}, [3]float64{1, 1, 1})
		require.NoError(t, err)
		x0, x1 := s.LocalRange()
		assert.Equal(t, next, x0)
		next = x1
		for ix := x0; ix < x1; ix++ {
			assert.Equal(t, g.Rank(), s.Owner(ix))
		}
	}
	assert.Equal(t, 8, next)
}

func TestSlab_CellWrapsPeriodically(t *testing.T) {
	s, err := NewSlab(comm.NewSelf(), [3]int{4, 4, 4}, [3]float64{100, 100, 100})
	require.NoError(t, err)

	assert.Equal(t, [3]int{0, 1, 3}, s.Cell(particle.Vec3{0, 25, 99.9}))
	assert.Equal(t, [3]int{0, 0, 0}, s.Cell(particle.Vec3{100, 200, 0}))
	assert.Equal(t, [3]int{3, 3, 0}, s.Cell(particle.Vec3{-1, -0.5, 0}))
}

func TestSlab_PaintAccumulates(t *testing.T) {
	s, err := NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{2, 2, 2})
	require.NoError(t, err)

	pos := []particle.Vec3{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}, {1.5, 0.5, 1.5}}
	require.NoError(t, s.Paint(pos, nil))
	require.NoError(t, s.Paint(pos[:1], []float64{0.25}))

	assert.Equal(t, 2.25, s.At(0, 0, 0))
	assert.Equal(t, 1.0, s.At(1, 0, 1))
	assert.Equal(t, 3.25, s.LocalSum())

	s.Zero()
	assert.Equal(t, 0.0, s.LocalSum())
}

func TestSlab_PaintRejectsForeignPositions(t *testing.T) {
	members := comm.NewLocal(2)
	s, err := NewSlab(members[0], [3]int{4, 1, 1}, [3]float64{4, 1, 1})
	require.NoError(t, err)

	err = s.Paint([]particle.Vec3{{3.5, 0, 0}}, nil)
	assert.ErrorIs(t, err, ErrNotOwned)

	err = s.Paint([]particle.Vec3{{0.5, 0, 0}}, []float64{1, 2})
	assert.Error(t, err)
}

func TestSlab_DecomposeAndExchange(t *testing.T) {
	const size = 3
	nmesh := [3]int{6, 1, 1}
	box := [3]float64{6, 1, 1}

	got := make([][]particle.Vec3, size)
	gotMass := make([][]float64, size)

	runRanks(t, size, func(g comm.Group) error {
		s, err := NewSlab(g, nmesh, box)
		if err != nil {
			return err
		}
		// every rank holds one particle per x plane, tagged with its rank in y
		var pos []particle.Vec3
		var mass []float64
		for ix := 0; ix < nmesh[0]; ix++ {
			pos = append(pos, particle.Vec3{float64(ix) + 0.5, float64(g.Rank()) / 10, 0})
			mass = append(mass, float64(10*g.Rank()+ix))
		}

		ctx := context.Background()
		layout, err := s.Decompose(ctx, pos)
		if err != nil {
			return err
		}
		p, err := layout.ExchangePositions(ctx, pos)
		if err != nil {
			return err
		}
		m, err := layout.Exchange(ctx, mass)
		if err != nil {
			return err
		}
		got[g.Rank()] = p
		gotMass[g.Rank()] = m
		return s.Paint(p, m)
	})

	for r := 0; r < size; r++ {
		// two planes per rank, one particle per plane from each of the three ranks
		require.Len(t, got[r], 6)
		require.Len(t, gotMass[r], 6)
		for i, p := range got[r] {
			ix := int(p[0])
			assert.Equal(t, r, ix/2, "particle %v landed on rank %d", p, r)
			src := int(p[1]*10 + 0.5)
			assert.Equal(t, float64(10*src+ix), gotMass[r][i], "mass must travel with its position")
		}
	}
}

func TestSlab_ExchangeLengthMismatch(t *testing.T) {
	s, err := NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{1, 1, 1})
	require.NoError(t, err)

	layout, err := s.Decompose(context.Background(), []particle.Vec3{{0, 0, 0}})
	require.NoError(t, err)
	_, err = layout.Exchange(context.Background(), []float64{1, 2})
	assert.Error(t, err)
}

func TestSlab_Allreduce(t *testing.T) {
	sums := make([]float64, 4)
	runRanks(t, 4, func(g comm.Group) error {
		s, err := NewSlab(g, [3]int{4, 1, 1}, [3]float64{1, 1, 1})
		if err != nil {
			return err
		}
		v, err := s.Allreduce(context.Background(), float64(g.Rank()+1))
		sums[g.Rank()] = v
		return err
	})
	for _, v := range sums {
		assert.Equal(t, 10.0, v)
	}
}
