package comm

import (
	"context"
	"fmt"
)

// mailboxDepth bounds how far a member may run ahead of a peer
const mailboxDepth = 4

// LocalGroup is a member of an in-process group. Each member is meant to be
// driven by its own goroutine, standing in for a separate process.
type LocalGroup struct {
	rank int
	hub  *localHub
}

type localHub struct {
	size int
	// mail[src][dst] carries messages from src to dst in call order
	mail [][]chan []float64
}

// NewLocal creates the members of an in-process group of the given size
func NewLocal(size int) []*LocalGroup {
	if size < 1 {
		size = 1
	}
	hub := &localHub{size: size, mail: make([][]chan []float64, size)}
	for src := range hub.mail {
		hub.mail[src] = make([]chan []float64, size)
		for dst := range hub.mail[src] {
			hub.mail[src][dst] = make(chan []float64, mailboxDepth)
		}
	}

	members := make([]*LocalGroup, size)
	for r := range members {
		members[r] = &LocalGroup{rank: r, hub: hub}
	}
	return members
}

// NewSelf creates a group with a single member
func NewSelf() *LocalGroup {
	return NewLocal(1)[0]
}

// Rank returns the member index
func (g *LocalGroup) Rank() int { return g.rank }

// Size returns the group size
func (g *LocalGroup) Size() int { return g.hub.size }

// Alltoall exchanges one buffer with every member, including itself
func (g *LocalGroup) Alltoall(ctx context.Context, send [][]float64) ([][]float64, error) {
	if err := checkSendCount(send, g.hub.size); err != nil {
		return nil, err
	}

	for dst, buf := range send {
		msg := make([]float64, len(buf))
		copy(msg, buf)
		select {
		case g.hub.mail[g.rank][dst] <- msg:
		case <-ctx.Done():
			return nil, fmt.Errorf("alltoall: rank %d sending to %d: %w", g.rank, dst, ctx.Err())
		}
	}

	recv := make([][]float64, g.hub.size)
	for src := range recv {
		select {
		case msg := <-g.hub.mail[src][g.rank]:
			recv[src] = msg
		case <-ctx.Done():
			return nil, fmt.Errorf("alltoall: rank %d waiting on %d: %w", g.rank, src, ctx.Err())
		}
	}
	return recv, nil
}

// Allreduce sums values over all members
func (g *LocalGroup) Allreduce(ctx context.Context, values []float64) ([]float64, error) {
	send := make([][]float64, g.hub.size)
	for i := range send {
		send[i] = values
	}
	recv, err := g.Alltoall(ctx, send)
	if err != nil {
		return nil, err
	}
	return sumInRankOrder(recv, len(values))
}
