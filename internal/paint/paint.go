// Package paint drives a particle source through a mesh: chunks are read,
// redistributed to the rank owning them, deposited into the local slab and the
// total weight is reduced across the group.
package paint

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/mesh"
	"github.com/particlekit/particlekit/internal/particle"
)

// ChunkEvent is reported after a chunk has been painted
type ChunkEvent struct {
	Rank int `json:"rank"`
	// Index counts chunks from zero in the order the source yielded them
	Index int `json:"index"`
	// Read is the number of particles this rank read
	Read int `json:"read"`
	// Received is the number of particles painted after the exchange
	Received int     `json:"received"`
	Weight   float64 `json:"weight"`
}

// DoneEvent is reported once the global total is known
type DoneEvent struct {
	Rank   int     `json:"rank"`
	Chunks int     `json:"chunks"`
	Local  float64 `json:"local"`
	Total  float64 `json:"total"`
}

// Observer receives progress from a Painter. Methods are called from the
// painting rank's goroutine and must not block for long.
type Observer interface {
	ChunkPainted(ChunkEvent)
	Done(DoneEvent)
}

// Painter paints sources into meshes
type Painter struct {
	logger    *zap.Logger
	observers []Observer
}

// New creates a painter. A nil logger disables logging.
func New(logger *zap.Logger, observers ...Observer) *Painter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Painter{logger: logger.Named("paint"), observers: observers}
}

// Paint zeroes m, paints every chunk src yields into it and returns the total
// weight over the whole group.
//
// Paint is collective: every member of m's group must call it, and every
// member's source must yield the same number of chunks. A source yielding
// zero chunks on every rank paints nothing and returns 0.
func (p *Painter) Paint(ctx context.Context, src particle.Source, m mesh.Mesh) (float64, error) {
	group := m.Group()
	log := p.logger.With(zap.Int("rank", group.Rank()))

	m.Zero()

	reader, err := src.Read(ctx, []string{particle.FieldPosition, particle.FieldMass}, group)
	if err != nil {
		if errors.Is(err, particle.ErrNotImplemented) {
			return 0, fmt.Errorf("source cannot be read: %w", err)
		}
		return 0, fmt.Errorf("open source: %w", err)
	}
	if c, ok := reader.(io.Closer); ok {
		defer c.Close()
	}

	var partial float64
	index := 0
	for ; ; index++ {
		chunk, err := reader.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read chunk %d: %w", index, err)
		}

		event, err := p.paintChunk(ctx, m, chunk)
		if err != nil {
			return 0, fmt.Errorf("chunk %d: %w", index, err)
		}
		partial += event.Weight

		event.Rank = group.Rank()
		event.Index = index
		log.Debug("painted chunk",
			zap.Int("chunk", index),
			zap.Int("read", event.Read),
			zap.Int("received", event.Received),
			zap.Float64("weight", event.Weight))
		for _, o := range p.observers {
			o.ChunkPainted(event)
		}
	}

	total, err := m.Allreduce(ctx, partial)
	if err != nil {
		return 0, fmt.Errorf("reduce total weight: %w", err)
	}

	log.Info("paint complete",
		zap.Int("chunks", index),
		zap.Float64("local", partial),
		zap.Float64("total", total))
	for _, o := range p.observers {
		o.Done(DoneEvent{Rank: group.Rank(), Chunks: index, Local: partial, Total: total})
	}
	return total, nil
}

// paintChunk runs the decompose/exchange/paint sequence for one chunk. Empty
// chunks go through the same collectives as any other.
func (p *Painter) paintChunk(ctx context.Context, m mesh.Mesh, chunk particle.Chunk) (ChunkEvent, error) {
	if err := chunk.Validate(); err != nil {
		return ChunkEvent{}, err
	}

	layout, err := m.Decompose(ctx, chunk.Position)
	if err != nil {
		return ChunkEvent{}, err
	}
	pos, err := layout.ExchangePositions(ctx, chunk.Position)
	if err != nil {
		return ChunkEvent{}, err
	}

	event := ChunkEvent{Read: chunk.Len(), Received: len(pos)}

	var weights []float64
	if chunk.Mass == nil {
		// unit weights; the local read count sums to the same global total
		event.Weight = float64(chunk.Len())
	} else {
		weights, err = layout.Exchange(ctx, chunk.Mass)
		if err != nil {
			return ChunkEvent{}, err
		}
		for _, w := range weights {
			event.Weight += w
		}
	}

	if err := m.Paint(pos, weights); err != nil {
		return ChunkEvent{}, err
	}
	return event, nil
}

// Paint paints src into m without logging or observers
func Paint(ctx context.Context, src particle.Source, m mesh.Mesh) (float64, error) {
	return New(nil).Paint(ctx, src, m)
}
