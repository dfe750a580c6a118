package particle

import (
	"context"
	"io"
)

// ChunkReader is a pull-based lazy sequence of chunks.
//
// Next returns io.EOF once the sequence is exhausted and keeps returning it on
// every later call; a reader is never restarted. Readers holding resources
// also implement io.Closer.
type ChunkReader interface {
	Next(ctx context.Context) (Chunk, error)
}

// ReaderFunc adapts a function to the ChunkReader interface
type ReaderFunc func(ctx context.Context) (Chunk, error)

// Next calls f
func (f ReaderFunc) Next(ctx context.Context) (Chunk, error) {
	return f(ctx)
}

// SliceReader yields a fixed list of chunks in order
type SliceReader struct {
	chunks []Chunk
	next   int
}

// NewSliceReader creates a reader over chunks
func NewSliceReader(chunks ...Chunk) *SliceReader {
	return &SliceReader{chunks: chunks}
}

// Next returns the following chunk or io.EOF
func (r *SliceReader) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if r.next >= len(r.chunks) {
		return Chunk{}, io.EOF
	}
	c := r.chunks[r.next]
	r.next++
	return c, nil
}

// Collect drains r into a slice. The reader is closed if it is an io.Closer.
func Collect(ctx context.Context, r ChunkReader) ([]Chunk, error) {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	var chunks []Chunk
	for {
		chunk, err := r.Next(ctx)
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

// Partition returns the half-open range [start, end) of total items owned by
// rank when items are split into size contiguous blocks.
func Partition(total, rank, size int) (start, end int) {
	if size <= 0 {
		return 0, total
	}
	start = total * rank / size
	end = total * (rank + 1) / size
	return start, end
}

// ChunkCount returns the number of chunks every rank must yield so that each
// rank's block of a total-item dataset fits in chunks of at most chunkSize.
// All ranks computing it from the same global total get the same answer.
func ChunkCount(total, size, chunkSize int) int {
	if chunkSize <= 0 || total <= 0 {
		return 0
	}
	if size <= 0 {
		size = 1
	}
	largest := (total + size - 1) / size
	return (largest + chunkSize - 1) / chunkSize
}
