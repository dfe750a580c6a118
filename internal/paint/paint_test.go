package paint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/mesh"
	"github.com/particlekit/particlekit/internal/particle"
)

// rankSource yields a fixed list of chunks per rank
type rankSource struct {
	chunks map[int][]particle.Chunk
}

func (s *rankSource) Read(ctx context.Context, fields []string, group comm.Group) (particle.ChunkReader, error) {
	return particle.NewSliceReader(s.chunks[group.Rank()]...), nil
}

type failingSource struct{ err error }

func (s failingSource) Read(ctx context.Context, fields []string, group comm.Group) (particle.ChunkReader, error) {
	return particle.ReaderFunc(func(ctx context.Context) (particle.Chunk, error) {
		return particle.Chunk{}, s.err
	}), nil
}

type recorder struct {
	mu     sync.Mutex
	chunks []ChunkEvent
	done   []DoneEvent
}

func (r *recorder) ChunkPainted(e ChunkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, e)
}

func (r *recorder) Done(e DoneEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, e)
}

type result struct {
	total float64
	slab  *mesh.Slab
	err   error
}

// paintAll paints src on every rank of an in-process group
func paintAll(size int, nmesh [3]int, box [3]float64, src particle.Source, observers ...Observer) []result {
	members := comm.NewLocal(size)
	results := make([]result, size)
	var wg sync.WaitGroup
	for r, g := range members {
		wg.Add(1)
		go func(r int, g comm.Group) {
			defer wg.Done()
			slab, err := mesh.NewSlab(g, nmesh, box)
			if err != nil {
				results[r].err = err
				return
			}
			total, err := New(zap.NewNop(), observers...).Paint(context.Background(), src, slab)
			results[r] = result{total: total, slab: slab, err: err}
		}(r, g)
	}
	wg.Wait()
	return results
}

func TestPaint_ZeroChunks(t *testing.T) {
	results := paintAll(3, [3]int{6, 2, 2}, [3]float64{1, 1, 1}, &rankSource{})
	for _, res := range results {
		require.NoError(t, res.err)
		assert.Equal(t, 0.0, res.total)
		for _, v := range res.slab.Values() {
			assert.Equal(t, 0.0, v)
		}
	}
}

func TestPaint_ZeroesMeshFirst(t *testing.T) {
	slab, err := mesh.NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, slab.Paint([]particle.Vec3{{0.1, 0.1, 0.1}}, []float64{7}))

	total, err := Paint(context.Background(), &rankSource{}, slab)
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)
	assert.Equal(t, 0.0, slab.LocalSum())
}

func TestPaint_UnitMassesOnOneRank(t *testing.T) {
	const n = 100
	pos := make([]particle.Vec3, n)
	mass := make([]float64, n)
	for i := range pos {
		pos[i] = particle.Vec3{float64(i) / n, 0.5, 0.5}
		mass[i] = 1
	}
	// rank 0 holds everything; the others yield one empty chunk each
	src := &rankSource{chunks: map[int][]particle.Chunk{
		0: {{Position: pos, Mass: mass}},
		1: {{}},
		2: {{}},
		3: {{}},
	}}

	results := paintAll(4, [3]int{8, 1, 1}, [3]float64{1, 1, 1}, src)
	painted := 0.0
	for r, res := range results {
		require.NoError(t, res.err, "rank %d", r)
		assert.Equal(t, float64(n), res.total)
		painted += res.slab.LocalSum()
	}
	assert.Equal(t, float64(n), painted)
}

func TestPaint_WeightedTotal(t *testing.T) {
	src := &rankSource{chunks: map[int][]particle.Chunk{
		0: {{Position: []particle.Vec3{{0.9, 0, 0}}, Mass: []float64{2.5}}},
		1: {{Position: []particle.Vec3{{0.1, 0, 0}, {0.6, 0, 0}}, Mass: []float64{0.25, 4}}},
	}}
	results := paintAll(2, [3]int{2, 1, 1}, [3]float64{1, 1, 1}, src)
	require.NoError(t, results[0].err)
	require.NoError(t, results[1].err)

	assert.Equal(t, 6.75, results[0].total)
	assert.Equal(t, 6.75, results[1].total)
	assert.Equal(t, 0.25, results[0].slab.LocalSum())
	assert.Equal(t, 6.5, results[1].slab.LocalSum())
}

func TestPaint_MissingMassCountsLocalReads(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 4).Draw(t, "size")
		nchunks := rapid.IntRange(0, 3).Draw(t, "chunks")

		src := &rankSource{chunks: map[int][]particle.Chunk{}}
		expected := 0
		for r := 0; r < size; r++ {
			chunks := make([]particle.Chunk, nchunks)
			for c := range chunks {
				n := rapid.IntRange(0, 20).Draw(t, fmt.Sprintf("n%d_%d", r, c))
				chunks[c].Position = make([]particle.Vec3, n)
				for i := range chunks[c].Position {
					x := rapid.Float64Range(-2, 2).Draw(t, fmt.Sprintf("x%d_%d_%d", r, c, i))
					chunks[c].Position[i] = particle.Vec3{x, 0, 0}
				}
				expected += n
			}
			src.chunks[r] = chunks
		}

		results := paintAll(size, [3]int{4, 1, 1}, [3]float64{1, 1, 1}, src)
		painted := 0.0
		for r, res := range results {
			if res.err != nil {
				t.Fatalf("rank %d: %v", r, res.err)
			}
			if res.total != float64(expected) {
				t.Fatalf("rank %d: total %v, expected %d", r, res.total, expected)
			}
			painted += res.slab.LocalSum()
		}
		if painted != float64(expected) {
			t.Fatalf("painted %v, expected %d", painted, expected)
		}
	})
}

func TestPaint_NotImplementedSource(t *testing.T) {
	slab, err := mesh.NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{1, 1, 1})
	require.NoError(t, err)

	_, err = Paint(context.Background(), particle.BaseSource{}, slab)
	require.Error(t, err)
	assert.True(t, errors.Is(err, particle.ErrNotImplemented))
}

func TestPaint_ReadErrorIsWrapped(t *testing.T) {
	slab, err := mesh.NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{1, 1, 1})
	require.NoError(t, err)

	boom := errors.New("disk on fire")
	_, err = Paint(context.Background(), failingSource{err: boom}, slab)
	assert.ErrorIs(t, err, boom)
}

func TestPaint_ChunkShapeMismatch(t *testing.T) {
	slab, err := mesh.NewSlab(comm.NewSelf(), [3]int{2, 2, 2}, [3]float64{1, 1, 1})
	require.NoError(t, err)

	src := &rankSource{chunks: map[int][]particle.Chunk{
		0: {{Position: make([]particle.Vec3, 2), Mass: []float64{1}}},
	}}
	_, err = Paint(context.Background(), src, slab)
	assert.ErrorIs(t, err, particle.ErrChunkShape)
}

func TestPaint_Observers(t *testing.T) {
	rec := &recorder{}
	src := &rankSource{chunks: map[int][]particle.Chunk{
		0: {{Position: []particle.Vec3{{0.1, 0, 0}}}, {}},
		1: {{Position: []particle.Vec3{{0.2, 0, 0}, {0.7, 0, 0}}}, {}},
	}}
	results := paintAll(2, [3]int{2, 1, 1}, [3]float64{1, 1, 1}, src, rec)
	for _, res := range results {
		require.NoError(t, res.err)
		assert.Equal(t, 3.0, res.total)
	}

	assert.Len(t, rec.chunks, 4)
	require.Len(t, rec.done, 2)
	for _, d := range rec.done {
		assert.Equal(t, 2, d.Chunks)
		assert.Equal(t, 3.0, d.Total)
	}

	received := 0
	for _, e := range rec.chunks {
		received += e.Received
	}
	assert.Equal(t, 3, received)
}
