package comm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisGroup(t *testing.T, size int) ([]Group, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	members := make([]Group, size)
	for r := 0; r < size; r++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cfg := DefaultRedisConfig()
		cfg.Addr = mr.Addr()
		cfg.RunID = "test-run"
		cfg.Rank = r
		cfg.Size = size
		g, err := NewRedisGroupWithClient(client, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { g.Close() })
		members[r] = g
	}
	return members, mr
}

func TestNewRedisGroup(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.RunID = "abc"
	g, err := NewRedisGroup(context.Background(), cfg)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, 0, g.Rank())
	assert.Equal(t, 1, g.Size())
}

func TestNewRedisGroup_ConnectionError(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "localhost:99999"
	cfg.RunID = "abc"
	_, err := NewRedisGroup(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewRedisGroupWithClient_Validation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	tests := []struct {
		name string
		cfg  RedisConfig
	}{
		{"missing run id", RedisConfig{Size: 1}},
		{"zero size", RedisConfig{RunID: "x", Size: 0}},
		{"rank out of range", RedisConfig{RunID: "x", Size: 2, Rank: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisGroupWithClient(client, tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRedisGroup_Alltoall(t *testing.T) {
	members, _ := setupRedisGroup(t, 3)
	results := make([][][]float64, 3)

	runMembers(t, members, func(g Group) error {
		send := make([][]float64, g.Size())
		for dst := range send {
			send[dst] = []float64{float64(g.Rank()), float64(dst), 0.5}
		}
		recv, err := g.Alltoall(context.Background(), send)
		results[g.Rank()] = recv
		return err
	})

	for dst, recv := range results {
		for src, vals := range recv {
			assert.Equal(t, []float64{float64(src), float64(dst), 0.5}, vals)
		}
	}
}

func TestRedisGroup_AllreduceMatchesLocal(t *testing.T) {
	redisMembers, _ := setupRedisGroup(t, 3)
	local := localMembers(3)

	contribution := func(rank int) []float64 {
		return []float64{0.1 * float64(rank+1), float64(rank * rank)}
	}

	redisOut := make([][]float64, 3)
	runMembers(t, redisMembers, func(g Group) error {
		out, err := g.Allreduce(context.Background(), contribution(g.Rank()))
		redisOut[g.Rank()] = out
		return err
	})

	localOut := make([][]float64, 3)
	runMembers(t, local, func(g Group) error {
		out, err := g.Allreduce(context.Background(), contribution(g.Rank()))
		localOut[g.Rank()] = out
		return err
	})

	for r := 0; r < 3; r++ {
		assert.Equal(t, localOut[0], redisOut[r])
	}
}

func TestRedisGroup_EmptyBuffers(t *testing.T) {
	members, mr := setupRedisGroup(t, 2)

	runMembers(t, members, func(g Group) error {
		recv, err := g.Alltoall(context.Background(), [][]float64{{}, {}})
		if err != nil {
			return err
		}
		for _, vals := range recv {
			if len(vals) != 0 {
				t.Errorf("expected empty buffer, got %v", vals)
			}
		}
		return nil
	})

	assert.Empty(t, mr.Keys(), "delivered lists are removed")
}

func TestRedisGroup_CancelledWhilePeerAbsent(t *testing.T) {
	members, _ := setupRedisGroup(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	// rank 1 never joins
	started := time.Now()
	_, err := members[0].Allreduce(ctx, []float64{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestFrameRoundTrip(t *testing.T) {
	vals := []float64{1.5, -2, 0, 1e300}
	src, out, err := decodeFrame(encodeFrame(7, vals))
	require.NoError(t, err)
	assert.Equal(t, 7, src)
	assert.Equal(t, vals, out)

	_, _, err = decodeFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}
