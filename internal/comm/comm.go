// Package comm provides the process group used for collective operations.
//
// Every member of a group executes the same program and must invoke the
// collective methods the same number of times in the same order; a member that
// skips a call leaves the others blocked. No call-count checking is done here.
package comm

import (
	"context"
	"fmt"
	"sync"
)

// Group is the fixed set of cooperating workers for one run
type Group interface {
	// Rank returns this member's index in [0, Size())
	Rank() int
	// Size returns the number of members
	Size() int
	// Alltoall sends send[j] to member j and returns the slices received,
	// indexed by source rank. len(send) must equal Size().
	Alltoall(ctx context.Context, send [][]float64) ([][]float64, error)
	// Allreduce returns the element-wise sum of values over all members.
	// Every member receives bit-identical results.
	Allreduce(ctx context.Context, values []float64) ([]float64, error)
}

// SumFloat64 reduces a single value across g
func SumFloat64(ctx context.Context, g Group, v float64) (float64, error) {
	out, err := g.Allreduce(ctx, []float64{v})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// sumInRankOrder adds the received vectors in rank order so that every member
// performs the same floating point operations.
func sumInRankOrder(received [][]float64, n int) ([]float64, error) {
	out := make([]float64, n)
	for src, vals := range received {
		if len(vals) != n {
			return nil, fmt.Errorf("allreduce: rank %d contributed %d values, expected %d", src, len(vals), n)
		}
		for i, v := range vals {
			out[i] += v
		}
	}
	return out, nil
}

func checkSendCount(send [][]float64, size int) error {
	if len(send) != size {
		return fmt.Errorf("alltoall: got %d send buffers for a group of %d", len(send), size)
	}
	return nil
}

var (
	defaultMu    sync.Mutex
	defaultGroup Group
)

// Default returns the process-wide group, a single-member group unless
// SetDefault was called. Only the outermost entry point should use it; library
// code receives its group explicitly.
func Default() Group {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultGroup == nil {
		defaultGroup = NewSelf()
	}
	return defaultGroup
}

// SetDefault overrides the process-wide group
func SetDefault(g Group) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultGroup = g
}
