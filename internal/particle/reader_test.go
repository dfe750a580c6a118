package particle

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlekit/particlekit/internal/comm"
)

func TestSliceReader_IsNotRestartable(t *testing.T) {
	ctx := context.Background()
	r := NewSliceReader(Chunk{Position: []Vec3{{1, 2, 3}}}, Chunk{})

	c, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	c, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	for i := 0; i < 3; i++ {
		_, err = r.Next(ctx)
		assert.Equal(t, io.EOF, err)
	}
}

type closingReader struct {
	*SliceReader
	closed bool
}

func (c *closingReader) Close() error {
	c.closed = true
	return nil
}

func TestCollect_ClosesReader(t *testing.T) {
	r := &closingReader{SliceReader: NewSliceReader(Chunk{}, Chunk{})}
	chunks, err := Collect(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	assert.True(t, r.closed)
}

func TestChunk_ValidateAndWeight(t *testing.T) {
	uniform := Chunk{Position: make([]Vec3, 4)}
	assert.NoError(t, uniform.Validate())
	assert.Equal(t, 4.0, uniform.Weight())

	weighted := Chunk{Position: make([]Vec3, 2), Mass: []float64{0.5, 2}}
	assert.NoError(t, weighted.Validate())
	assert.Equal(t, 2.5, weighted.Weight())

	bad := Chunk{Position: make([]Vec3, 2), Mass: []float64{1}}
	assert.ErrorIs(t, bad.Validate(), ErrChunkShape)
}

func TestBaseSource_NotImplemented(t *testing.T) {
	var src Source = BaseSource{}
	_, err := src.Read(context.Background(), []string{FieldPosition}, comm.NewSelf())
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestPartition(t *testing.T) {
	covered := 0
	for r := 0; r < 3; r++ {
		start, end := Partition(10, r, 3)
		assert.Equal(t, covered, start)
		covered = end
	}
	assert.Equal(t, 10, covered)
}

func TestChunkCount(t *testing.T) {
	assert.Equal(t, 0, ChunkCount(0, 4, 10))
	assert.Equal(t, 1, ChunkCount(10, 4, 10))
	assert.Equal(t, 2, ChunkCount(11, 1, 10))
	// ranks hold 4,3,3 items; the largest needs two chunks of 2
	assert.Equal(t, 2, ChunkCount(10, 3, 2))
}

func TestWants(t *testing.T) {
	assert.True(t, Wants([]string{FieldPosition, FieldMass}, FieldMass))
	assert.False(t, Wants([]string{FieldPosition}, FieldMass))
}
