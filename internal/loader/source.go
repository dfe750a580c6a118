package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
)

// iterKey is the registry slot holding the chunk iterator returned by read
const iterKey = "particlekit.iter"

// LuaSource is a particle source declared in a plugin file.
//
// Each Read executes the file in a new interpreter, so concurrent ranks never
// share Lua state. The read function is called as read(args, rank, size) and
// must return an iterator; every call of the iterator returns a chunk table
// {Position = {{x, y, z}, ...}, Mass = {...}} or nil once exhausted.
//
// Painting exchanges weights only for chunks that carry Mass, so a plugin must
// set Mass on every rank or on none. An empty chunk without Mass is given an
// empty Mass once the same reader has produced one with Mass.
type LuaSource struct {
	Path string
	Tag  string
	Args plugin.Args

	descriptor string
	logger     *zap.Logger
}

func (s *LuaSource) String() string {
	return s.descriptor
}

// Read starts the plugin's iterator for this rank
func (s *LuaSource) Read(ctx context.Context, fields []string, group comm.Group) (particle.ChunkReader, error) {
	state := newState(&host{want: s.Tag})
	if err := runFile(state, s.Path); err != nil {
		return nil, &LoadError{Path: s.Path, Err: err}
	}

	state.Field(lua.RegistryIndex, readKey)
	if !state.IsFunction(-1) {
		state.Pop(1)
		return nil, &LoadError{Path: s.Path, Err: fmt.Errorf("source %q is no longer declared", s.Tag)}
	}
	pushArgs(state, s.Args)
	state.PushInteger(group.Rank())
	state.PushInteger(group.Size())
	if err := state.ProtectedCall(3, 1, 0); err != nil {
		return nil, fmt.Errorf("%s: read: %w", s.Tag, err)
	}
	if !state.IsFunction(-1) {
		state.Pop(1)
		return nil, fmt.Errorf("%s: read must return an iterator function", s.Tag)
	}
	state.SetField(lua.RegistryIndex, iterKey)

	if s.logger != nil {
		s.logger.Debug("lua source opened",
			zap.String("source", s.Tag),
			zap.String("path", s.Path),
			zap.Int("rank", group.Rank()))
	}

	return &luaReader{
		tag:      s.Tag,
		state:    state,
		withMass: particle.Wants(fields, particle.FieldMass),
	}, nil
}

type luaReader struct {
	tag      string
	state    *lua.State
	withMass bool
	sawMass  bool
	done     bool
	err      error
}

func (r *luaReader) Next(ctx context.Context) (particle.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return particle.Chunk{}, err
	}
	if r.err != nil {
		return particle.Chunk{}, r.err
	}
	if r.done {
		return particle.Chunk{}, io.EOF
	}

	state := r.state
	top := state.Top()
	defer state.SetTop(top)

	state.Field(lua.RegistryIndex, iterKey)
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return r.fail(err)
	}
	if state.IsNil(-1) {
		r.done = true
		return particle.Chunk{}, io.EOF
	}
	if !state.IsTable(-1) {
		return r.fail(fmt.Errorf("iterator returned %s, expected a chunk table", lua.TypeNameOf(state, -1)))
	}

	chunk, err := toChunk(state, -1)
	if err != nil {
		return r.fail(err)
	}
	switch {
	case !r.withMass:
		chunk.Mass = nil
	case chunk.Mass != nil:
		r.sawMass = true
	case r.sawMass && chunk.Len() == 0:
		chunk.Mass = []float64{}
	}
	return chunk, nil
}

// fail makes err the reader's permanent result
func (r *luaReader) fail(err error) (particle.Chunk, error) {
	r.err = fmt.Errorf("%s: %w", r.tag, err)
	return particle.Chunk{}, r.err
}

func (r *luaReader) Close() error {
	r.done = true
	r.state = nil
	return nil
}

// toChunk converts the chunk table at index
func toChunk(state *lua.State, index int) (particle.Chunk, error) {
	index = state.AbsIndex(index)
	var chunk particle.Chunk

	state.Field(index, particle.FieldPosition)
	if !state.IsTable(-1) {
		return chunk, fmt.Errorf("chunk has no %s table", particle.FieldPosition)
	}
	n := state.RawLength(-1)
	chunk.Position = make([]particle.Vec3, n)
	for i := 1; i <= n; i++ {
		state.RawGetInt(-1, i)
		if !state.IsTable(-1) {
			return chunk, fmt.Errorf("%s[%d] is not a table", particle.FieldPosition, i)
		}
		for d := 0; d < 3; d++ {
			state.RawGetInt(-1, d+1)
			v, ok := state.ToNumber(-1)
			state.Pop(1)
			if !ok {
				return chunk, fmt.Errorf("%s[%d][%d] is not a number", particle.FieldPosition, i, d+1)
			}
			chunk.Position[i-1][d] = v
		}
		state.Pop(1)
	}
	state.Pop(1)

	state.Field(index, particle.FieldMass)
	if state.IsTable(-1) {
		m := state.RawLength(-1)
		chunk.Mass = make([]float64, m)
		for i := 1; i <= m; i++ {
			state.RawGetInt(-1, i)
			v, ok := state.ToNumber(-1)
			state.Pop(1)
			if !ok {
				return chunk, fmt.Errorf("%s[%d] is not a number", particle.FieldMass, i)
			}
			chunk.Mass[i-1] = v
		}
	}
	state.Pop(1)

	return chunk, chunk.Validate()
}
