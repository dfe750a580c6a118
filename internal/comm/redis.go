package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// pollInterval bounds each blocking pop
const pollInterval = time.Second

// RedisGroup implements collectives for members running in separate processes,
// using one Redis list per (collective call, destination rank).
type RedisGroup struct {
	client *redis.Client
	config RedisConfig
	seq    uint64
}

// RedisConfig holds the Redis group configuration
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix is prepended to every key
	Prefix string
	// RunID namespaces the keys of one run; all members must agree on it
	RunID string
	// Rank and Size place this process in the group
	Rank int
	Size int
	// TTL bounds how long undelivered messages survive
	TTL time.Duration
}

// DefaultRedisConfig returns a default Redis group configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "particlekit:",
		Size:   1,
		TTL:    10 * time.Minute,
	}
}

// NewRedisGroup connects to Redis and joins the group described by config
func NewRedisGroup(ctx context.Context, config RedisConfig) (*RedisGroup, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisGroupWithClient(client, config)
}

// NewRedisGroupWithClient joins the group using an existing client
func NewRedisGroupWithClient(client *redis.Client, config RedisConfig) (*RedisGroup, error) {
	if config.Size < 1 {
		return nil, fmt.Errorf("redis group size must be positive, got %d", config.Size)
	}
	if config.Rank < 0 || config.Rank >= config.Size {
		return nil, fmt.Errorf("redis group rank %d out of range for size %d", config.Rank, config.Size)
	}
	if config.RunID == "" {
		return nil, errors.New("redis group requires a run id shared by all members")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultRedisConfig().TTL
	}
	return &RedisGroup{client: client, config: config}, nil
}

// Rank returns the member index
func (g *RedisGroup) Rank() int { return g.config.Rank }

// Size returns the group size
func (g *RedisGroup) Size() int { return g.config.Size }

// Close releases the Redis connection
func (g *RedisGroup) Close() error {
	return g.client.Close()
}

func (g *RedisGroup) key(seq uint64, dst int) string {
	return fmt.Sprintf("%s%s:%d:%d", g.config.Prefix, g.config.RunID, seq, dst)
}

// Alltoall pushes one framed buffer onto every destination's list, then pops
// Size() frames from its own list.
func (g *RedisGroup) Alltoall(ctx context.Context, send [][]float64) ([][]float64, error) {
	if err := checkSendCount(send, g.config.Size); err != nil {
		return nil, err
	}
	g.seq++
	seq := g.seq

	pipe := g.client.TxPipeline()
	for dst, buf := range send {
		key := g.key(seq, dst)
		pipe.RPush(ctx, key, encodeFrame(g.config.Rank, buf))
		pipe.Expire(ctx, key, g.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("alltoall %d: rank %d send: %w", seq, g.config.Rank, err)
	}

	own := g.key(seq, g.config.Rank)
	recv := make([][]float64, g.config.Size)
	seen := make([]bool, g.config.Size)
	for got := 0; got < g.config.Size; got++ {
		res, err := g.pop(ctx, own)
		if err != nil {
			return nil, fmt.Errorf("alltoall %d: rank %d receive: %w", seq, g.config.Rank, err)
		}
		src, vals, err := decodeFrame([]byte(res[1]))
		if err != nil {
			return nil, fmt.Errorf("alltoall %d: %w", seq, err)
		}
		if src < 0 || src >= g.config.Size || seen[src] {
			return nil, fmt.Errorf("alltoall %d: unexpected frame from rank %d", seq, src)
		}
		seen[src] = true
		recv[src] = vals
	}
	// the list is empty now, and Redis drops empty lists
	return recv, nil
}

// pop waits for one frame on key. BLPOP is issued with a short timeout so a
// cancelled context is noticed while a peer is absent.
func (g *RedisGroup) pop(ctx context.Context, key string) ([]string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := g.client.BLPop(ctx, pollInterval, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		return res, nil
	}
}

// Allreduce sums values over all members
func (g *RedisGroup) Allreduce(ctx context.Context, values []float64) ([]float64, error) {
	send := make([][]float64, g.config.Size)
	for i := range send {
		send[i] = values
	}
	recv, err := g.Alltoall(ctx, send)
	if err != nil {
		return nil, err
	}
	return sumInRankOrder(recv, len(values))
}

// encodeFrame lays out: source rank (uint32), count (uint32), count float64 values
func encodeFrame(src int, vals []float64) []byte {
	buf := make([]byte, 8+8*len(vals))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(src))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(vals)))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8+8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFrame(buf []byte) (int, []float64, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("short frame of %d bytes", len(buf))
	}
	src := int(binary.LittleEndian.Uint32(buf[0:4]))
	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	if len(buf) != 8+8*n {
		return 0, nil, fmt.Errorf("frame from rank %d: want %d bytes, got %d", src, 8+8*n, len(buf))
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8+8*i:]))
	}
	return src, vals, nil
}
