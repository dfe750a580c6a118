package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlekit/particlekit/internal/cli/config"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/source"
)

const latticePlugin = `
source {
  tag = "lattice",
  help = "particles on a regular lattice",
  args = {
    { name = "n", kind = "int" },
    { name = "BoxSize", kind = "boxsize" },
  },
  read = function(args, rank, size)
    local total = args.n * args.n * args.n
    local first, last = particlekit.partition(total, rank, size)
    local done = false
    return function()
      if done then return nil end
      done = true
      local pos = {}
      local cell = args.BoxSize[1] / args.n
      for i = first, last - 1 do
        local x = i % args.n
        local y = math.floor(i / args.n) % args.n
        local z = math.floor(i / (args.n * args.n))
        pos[#pos + 1] = { (x + 0.5) * cell, (y + 0.5) * cell, (z + 0.5) * cell }
      end
      return { Position = pos }
    end
  end,
}
`

// testEnv is a working directory with a config file whose catalog lives in
// the same directory
type testEnv struct {
	dir    string
	config string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Catalog.DSN = filepath.Join(dir, "runs.db")
	cfg.Server.OutputDir = filepath.Join(dir, "out")
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, config.Save(path, cfg))
	return &testEnv{dir: dir, config: path}
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "particlekit", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "paint", "plugins", "storage", "runs", "serve", "init"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.2.3-test"
	defer func() { Version = "dev" }()

	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3-test")
	assert.Contains(t, out, "Go version:")
}

func TestPluginsList(t *testing.T) {
	env := setupTestEnv(t)
	out, _, err := execute(t, "plugins", "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "TAG")
	assert.Contains(t, out, "uniform")
	assert.Contains(t, out, "plaintext")
}

func TestPluginsHelp(t *testing.T) {
	env := setupTestEnv(t)

	out, _, err := execute(t, "plugins", "help", "uniform", "--config", env.config)
	require.NoError(t, err)
	usage, err := source.Registry.Usage("uniform")
	require.NoError(t, err)
	assert.Equal(t, usage+"\n", out)

	out, _, err = execute(t, "plugins", "help", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "uniform")
	assert.Contains(t, out, "plaintext")

	_, _, err = execute(t, "plugins", "help", "unifrom", "--config", env.config)
	require.Error(t, err)
	assert.True(t, plugin.IsUnknownType(err))
}

func TestPluginsFromLuaFile(t *testing.T) {
	env := setupTestEnv(t)
	lua := env.path("lattice.lua")
	require.NoError(t, os.WriteFile(lua, []byte(latticePlugin), 0644))

	out, _, err := execute(t, "plugins", "list", "--config", env.config, "--plugin", lua)
	require.NoError(t, err)
	assert.Contains(t, out, "lattice")

	// plugins never leak into the process-wide registry
	_, ok := source.Registry.Lookup("lattice")
	assert.False(t, ok)

	_, _, err = execute(t, "plugins", "list", "--config", env.config, "--plugin", env.dir)
	assert.Error(t, err)
}

func TestStorageList(t *testing.T) {
	env := setupTestEnv(t)
	out, _, err := execute(t, "storage", "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "1d")
	assert.Contains(t, out, "2d")
}

func TestPaintAndListRuns(t *testing.T) {
	env := setupTestEnv(t)
	output := env.path("profile.txt")

	_, stderr, err := execute(t, "paint", "uniform:1000:10",
		"--config", env.config, "--nmesh", "8", "--procs", "2", "--axis", "y", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, stderr, "total:")
	assert.Contains(t, stderr, "1000")

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# axis = y\n")
	assert.Contains(t, string(content), "# nmesh = 8 8 8\n")

	out, _, err := execute(t, "runs", "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "uniform:1000:10")
	assert.Contains(t, out, "8x8x8")
}

func TestPaintLuaSourceSingleRank(t *testing.T) {
	env := setupTestEnv(t)
	lua := env.path("lattice.lua")
	require.NoError(t, os.WriteFile(lua, []byte(latticePlugin), 0644))
	output := env.path("lattice.txt")

	_, stderr, err := execute(t, "paint", "lattice:4:1",
		"--config", env.config, "--plugin", lua, "--nmesh", "4", "--procs", "1",
		"--dim", "2d", "--no-record", "--progress", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, stderr, "painted total weight 64")

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# shape = 4 4\n")
}

func TestPaintErrors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad nmesh", []string{"uniform:10:1", "--nmesh", "8,8"}, "invalid nmesh"},
		{"bad box size", []string{"uniform:10:1", "--boxsize", "1,2"}, "box size"},
		{"bad axis", []string{"uniform:10:1", "--axis", "w"}, "unknown axis"},
		{"bad comm", []string{"uniform:10:1", "--comm", "mpi"}, "unknown process group"},
		{"rank outside group", []string{"uniform:10:1", "--comm", "redis", "--rank", "2", "--size", "2"}, "outside a group"},
		{"redis without run id", []string{"uniform:10:1", "--comm", "redis", "--size", "2"}, "--run-id"},
		{"unknown source", []string{"tpm:/data", "--no-record"}, "tpm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"paint"}, tt.args...)
			args = append(args, "--config", env.config, "-o", env.path("out.txt"))
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseNmesh(t *testing.T) {
	n, err := parseNmesh("16")
	require.NoError(t, err)
	assert.Equal(t, [3]int{16, 16, 16}, n)

	n, err = parseNmesh("8, 4,2")
	require.NoError(t, err)
	assert.Equal(t, [3]int{8, 4, 2}, n)

	for _, bad := range []string{"", "0", "-4", "a", "1,2", "1,2,3,4"} {
		_, err := parseNmesh(bad)
		assert.Error(t, err, bad)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)

	out, _, err := execute(t, "init", "--yes", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Paint, cfg.Paint)

	_, _, err = execute(t, "init", "--yes", "--path", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "init", "--yes", "--force", "--path", path)
	assert.NoError(t, err)
}

func TestRunsWithoutCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Catalog.DSN = ""
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, config.Save(path, cfg))

	_, _, err := execute(t, "runs", "list", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run catalog")
}
