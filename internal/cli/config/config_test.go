package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Paint, cfg.Paint)
	assert.Equal(t, "local", cfg.Comm.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Comm.Redis.TTL)
	assert.Equal(t, "particlekit.db", cfg.Catalog.DSN)
	assert.Equal(t, 67.7, cfg.Cosmology.H0)
	assert.Equal(t, "localhost:8080", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Server.MaxProcs)
	assert.Equal(t, 1<<24, cfg.Server.MaxCells)
	assert.Empty(t, cfg.Plugins)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	content := `
paint:
  nmesh: 128
  dim: 2d
  axis: z
  procs: 4
comm:
  backend: redis
  redis:
    addr: redis:6379
    ttl: 30s
catalog:
  dsn: postgres://localhost/runs
cosmology:
  h0: 70
plugins:
  - plugins/lattice.lua
`
	require.NoError(t, os.WriteFile(FileName, []byte(content), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, PaintConfig{Nmesh: 128, Dim: "2d", Axis: "z", Procs: 4}, cfg.Paint)
	assert.Equal(t, "redis", cfg.Comm.Backend)
	assert.Equal(t, "redis:6379", cfg.Comm.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Comm.Redis.TTL)
	assert.Equal(t, "particlekit:", cfg.Comm.Redis.Prefix)
	assert.Equal(t, "postgres://localhost/runs", cfg.Catalog.DSN)
	assert.Equal(t, 70.0, cfg.Cosmology.H0)
	assert.Equal(t, 0.31, cfg.Cosmology.OmegaM)
	assert.Equal(t, []string{"plugins/lattice.lua"}, cfg.Plugins)
}

func TestLoad_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paint:\n  nmesh: 16\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Paint.Nmesh)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PARTICLEKIT_PAINT_PROCS", "3")
	t.Setenv("PARTICLEKIT_SERVER_ADDR", ":9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Paint.Procs)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero nmesh", func(c *Config) { c.Paint.Nmesh = 0 }, "paint.nmesh"},
		{"zero procs", func(c *Config) { c.Paint.Procs = 0 }, "paint.procs"},
		{"bad dim", func(c *Config) { c.Paint.Dim = "3d" }, "paint.dim"},
		{"bad axis", func(c *Config) { c.Paint.Axis = "w" }, "paint.axis"},
		{"bad backend", func(c *Config) { c.Comm.Backend = "mpi" }, "comm.backend"},
		{"zero max procs", func(c *Config) { c.Server.MaxProcs = 0 }, "server.max_procs"},
		{"zero max cells", func(c *Config) { c.Server.MaxCells = 0 }, "server.max_cells"},
		{"bad ttl", func(c *Config) { c.Comm.Redis.TTL = 0 }, "comm.redis.ttl"},
		{"bad cosmology", func(c *Config) { c.Cosmology.H0 = -1 }, "h0"},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedisGroupConfig(t *testing.T) {
	cfg := Default()
	rc := cfg.RedisGroupConfig("run-7", 2, 4)
	assert.Equal(t, "run-7", rc.RunID)
	assert.Equal(t, 2, rc.Rank)
	assert.Equal(t, 4, rc.Size)
	assert.Equal(t, cfg.Comm.Redis.Addr, rc.Addr)
	assert.Equal(t, cfg.Comm.Redis.TTL, rc.TTL)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Paint.Nmesh = 32
	cfg.Comm.Redis.TTL = 90 * time.Second
	cfg.Plugins = []string{"a.lua"}
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ttl: 1m30s")
	assert.Contains(t, string(data), "omega_m: 0.31")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Paint.Procs = 0
	err := Save(filepath.Join(t.TempDir(), FileName), cfg)
	assert.Error(t, err)
}
