package loader

import (
	"fmt"
	"math"

	"github.com/Shopify/go-lua"

	"github.com/particlekit/particlekit/internal/particle"
	"github.com/particlekit/particlekit/internal/plugin"
)

// readKey is the registry slot holding the read function of the source being
// instantiated
const readKey = "particlekit.read"

// definition is one source{...} declaration
type definition struct {
	tag    string
	help   string
	schema plugin.Schema
}

func (d definition) entry(path string) plugin.Entry[particle.Source] {
	return plugin.Entry[particle.Source]{
		Tag:    d.tag,
		Help:   d.help,
		Schema: d.schema,
		New: func(desc *plugin.Descriptor, env *plugin.Env) (particle.Source, error) {
			return &LuaSource{
				Path:       path,
				Tag:        d.tag,
				Args:       desc.Args,
				descriptor: desc.String(),
				logger:     env.Logger,
			}, nil
		},
	}
}

// host implements the functions a plugin file can call. In collect mode every
// declaration is recorded; otherwise only the read function of want is kept.
type host struct {
	want string
	defs []definition
}

var helpers = []lua.RegistryFunction{
	{Name: "partition", Function: luaPartition},
	{Name: "chunk_count", Function: luaChunkCount},
}

func newState(h *host) *lua.State {
	state := lua.NewState()
	lua.OpenLibraries(state)

	state.Register("source", h.source)

	state.NewTable()
	lua.SetFunctions(state, helpers, 0)
	state.SetGlobal("particlekit")
	return state
}

func runFile(state *lua.State, path string) error {
	if err := lua.LoadFile(state, path, ""); err != nil {
		return fmt.Errorf("parse lua: %w", err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run lua: %w", err)
	}
	return nil
}

// collect runs the file once and returns its declarations
func collect(path string) ([]definition, error) {
	h := &host{}
	state := newState(h)
	if err := runFile(state, path); err != nil {
		return nil, err
	}
	return h.defs, nil
}

func (h *host) source(state *lua.State) int {
	lua.CheckType(state, 1, lua.TypeTable)

	state.Field(1, "read")
	isFunc := state.IsFunction(-1)
	state.Pop(1)
	if !isFunc {
		lua.Errorf(state, "source: read must be a function")
		return 0
	}

	raw := tableToMap(state, 1)
	tag, _ := raw["tag"].(string)
	if tag == "" {
		lua.Errorf(state, "source: tag must be a non-empty string")
		return 0
	}

	if h.want != "" {
		if tag == h.want {
			state.Field(1, "read")
			state.SetField(lua.RegistryIndex, readKey)
		}
		return 0
	}

	help, _ := raw["help"].(string)
	schema, err := schemaFromLua(raw["args"])
	if err != nil {
		lua.Errorf(state, "source %s: %s", tag, err.Error())
		return 0
	}
	h.defs = append(h.defs, definition{tag: tag, help: help, schema: schema})
	return 0
}

func luaPartition(state *lua.State) int {
	total := lua.CheckInteger(state, 1)
	rank := lua.CheckInteger(state, 2)
	size := lua.CheckInteger(state, 3)
	start, end := particle.Partition(total, rank, size)
	state.PushInteger(start)
	state.PushInteger(end)
	return 2
}

func luaChunkCount(state *lua.State) int {
	total := lua.CheckInteger(state, 1)
	size := lua.CheckInteger(state, 2)
	chunkSize := lua.CheckInteger(state, 3)
	state.PushInteger(particle.ChunkCount(total, size, chunkSize))
	return 1
}

func schemaFromLua(v any) (plugin.Schema, error) {
	if v == nil {
		return plugin.NewSchema(), nil
	}
	list, ok := v.([]any)
	if !ok {
		return plugin.Schema{}, fmt.Errorf("args must be a list of tables")
	}
	fields := make([]plugin.Field, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return plugin.Schema{}, fmt.Errorf("args[%d] must be a table", i+1)
		}
		f, err := fieldFromLua(m)
		if err != nil {
			return plugin.Schema{}, fmt.Errorf("args[%d]: %w", i+1, err)
		}
		fields = append(fields, f)
	}
	return plugin.NewSchema(fields...), nil
}

func fieldFromLua(m map[string]any) (plugin.Field, error) {
	var f plugin.Field
	f.Name, _ = m["name"].(string)
	f.Help, _ = m["help"].(string)
	f.Flag, _ = m["flag"].(bool)
	f.Required, _ = m["required"].(bool)

	kindName, _ := m["kind"].(string)
	if kindName == "" {
		kindName = "string"
	}
	kind, err := plugin.ParseKind(kindName)
	if err != nil {
		return f, err
	}
	f.Kind = kind

	if choices, ok := m["choices"].([]any); ok {
		for _, c := range choices {
			s, ok := c.(string)
			if !ok {
				return f, fmt.Errorf("choices must be strings")
			}
			f.Choices = append(f.Choices, s)
		}
	}

	if def, ok := m["default"]; ok && def != nil {
		v, err := coerce(kind, def)
		if err != nil {
			return f, fmt.Errorf("default of %q: %w", f.Name, err)
		}
		f.Default = v
	}
	return f, nil
}

// coerce converts a Lua value into the Go type used for kind
func coerce(kind plugin.Kind, v any) (any, error) {
	switch kind {
	case plugin.KindString, plugin.KindChoice:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case plugin.KindInt:
		if n, ok := v.(int); ok {
			return n, nil
		}
	case plugin.KindFloat:
		if x, ok := toFloat(v); ok {
			return x, nil
		}
	case plugin.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case plugin.KindBoxSize:
		if x, ok := toFloat(v); ok {
			return [3]float64{x, x, x}, nil
		}
		if s, ok := v.(string); ok {
			return plugin.ParseBoxSize(s)
		}
		if list, ok := v.([]any); ok && len(list) == 3 {
			var box [3]float64
			for i, item := range list {
				x, ok := toFloat(item)
				if !ok {
					return nil, fmt.Errorf("box size entries must be numbers")
				}
				box[i] = x
			}
			return box, nil
		}
	case plugin.KindInts:
		if list, ok := v.([]any); ok {
			out := make([]int, len(list))
			for i, item := range list {
				n, ok := item.(int)
				if !ok {
					return nil, fmt.Errorf("int list entries must be integers")
				}
				out[i] = n
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%v is not a valid %s", v, kind)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// pushArgs pushes descriptor arguments as a Lua table
func pushArgs(state *lua.State, args plugin.Args) {
	state.NewTable()
	for name, v := range args {
		switch x := v.(type) {
		case string:
			state.PushString(x)
		case int:
			state.PushInteger(x)
		case float64:
			state.PushNumber(x)
		case bool:
			state.PushBoolean(x)
		case [3]float64:
			state.CreateTable(3, 0)
			for i, c := range x {
				state.PushNumber(c)
				state.RawSetInt(-2, i+1)
			}
		case []int:
			state.CreateTable(len(x), 0)
			for i, n := range x {
				state.PushInteger(n)
				state.RawSetInt(-2, i+1)
			}
		default:
			continue
		}
		state.SetField(-2, name)
	}
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

// tableToGo returns a []any for sequences and a map otherwise
func tableToGo(state *lua.State, index int) any {
	index = state.AbsIndex(index)
	n := state.RawLength(index)
	if n == 0 {
		m := tableToMap(state, index)
		if len(m) == 0 {
			return []any{}
		}
		return m
	}
	result := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		state.RawGetInt(index, i)
		result = append(result, luaToGo(state, -1))
		state.Pop(1)
	}
	return result
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 && math.Abs(value) < 1<<53 {
		return int(value)
	}
	return value
}
