package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/cosmology"
	"github.com/particlekit/particlekit/internal/logging"
	"github.com/particlekit/particlekit/internal/stats"
	"github.com/particlekit/particlekit/internal/storage"
)

// FileName is the config file looked up in the working directory
const FileName = "particlekit.yml"

// EnvPrefix prefixes environment overrides, e.g. PARTICLEKIT_PAINT_PROCS
const EnvPrefix = "PARTICLEKIT"

// Config represents the particlekit configuration
type Config struct {
	Paint     PaintConfig         `mapstructure:"paint" yaml:"paint"`
	Comm      CommConfig          `mapstructure:"comm" yaml:"comm"`
	Catalog   CatalogConfig       `mapstructure:"catalog" yaml:"catalog"`
	Cosmology cosmology.Cosmology `mapstructure:"cosmology" yaml:"cosmology"`
	Server    ServerConfig        `mapstructure:"server" yaml:"server"`
	Log       LogConfig           `mapstructure:"log" yaml:"log"`
	Plugins   []string            `mapstructure:"plugins" yaml:"plugins,omitempty"`
}

// PaintConfig holds defaults for painting runs
type PaintConfig struct {
	Nmesh int    `mapstructure:"nmesh" yaml:"nmesh"`
	Dim   string `mapstructure:"dim" yaml:"dim"`
	Axis  string `mapstructure:"axis" yaml:"axis"`
	Procs int    `mapstructure:"procs" yaml:"procs"`
}

// CommConfig selects the process group backend
type CommConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the Redis process group
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// MarshalYAML writes the TTL as a duration string
func (r RedisConfig) MarshalYAML() (any, error) {
	return struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password,omitempty"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		TTL      string `yaml:"ttl"`
	}{r.Addr, r.Password, r.DB, r.Prefix, r.TTL.String()}, nil
}

// CatalogConfig locates the run catalog. An empty DSN disables it.
type CatalogConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// ServerConfig represents API server configuration
type ServerConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	MaxProcs  int    `mapstructure:"max_procs" yaml:"max_procs"`
	MaxCells  int    `mapstructure:"max_cells" yaml:"max_cells"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	redis := comm.DefaultRedisConfig()
	return &Config{
		Paint: PaintConfig{Nmesh: 64, Dim: string(storage.Dim1D), Axis: "x", Procs: 1},
		Comm: CommConfig{
			Backend: "local",
			Redis:   RedisConfig{Addr: redis.Addr, Prefix: redis.Prefix, TTL: redis.TTL},
		},
		Catalog:   CatalogConfig{DSN: "particlekit.db"},
		Cosmology: *cosmology.Default(),
		Server:    ServerConfig{Addr: "localhost:8080", OutputDir: "runs", MaxProcs: 8, MaxCells: 1 << 24},
		Log:       LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("paint.nmesh", d.Paint.Nmesh)
	v.SetDefault("paint.dim", d.Paint.Dim)
	v.SetDefault("paint.axis", d.Paint.Axis)
	v.SetDefault("paint.procs", d.Paint.Procs)
	v.SetDefault("comm.backend", d.Comm.Backend)
	v.SetDefault("comm.redis.addr", d.Comm.Redis.Addr)
	v.SetDefault("comm.redis.password", "")
	v.SetDefault("comm.redis.db", 0)
	v.SetDefault("comm.redis.prefix", d.Comm.Redis.Prefix)
	v.SetDefault("comm.redis.ttl", d.Comm.Redis.TTL)
	v.SetDefault("catalog.dsn", d.Catalog.DSN)
	v.SetDefault("cosmology.h0", d.Cosmology.H0)
	v.SetDefault("cosmology.omega_m", d.Cosmology.OmegaM)
	v.SetDefault("cosmology.omega_lambda", d.Cosmology.OmegaLambda)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.output_dir", d.Server.OutputDir)
	v.SetDefault("server.max_procs", d.Server.MaxProcs)
	v.SetDefault("server.max_cells", d.Server.MaxCells)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", false)
	v.SetDefault("plugins", []string{})
}

// Load reads path, or particlekit.yml from the working directory when path
// is empty. A missing default file is not an error; a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("particlekit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save validates cfg and writes it to path as yaml
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values no command can use
func (c *Config) Validate() error {
	return validateConfig(c)
}

// RedisGroupConfig builds the process group configuration for one member
func (c *Config) RedisGroupConfig(runID string, rank, size int) comm.RedisConfig {
	return comm.RedisConfig{
		Addr:     c.Comm.Redis.Addr,
		Password: c.Comm.Redis.Password,
		DB:       c.Comm.Redis.DB,
		Prefix:   c.Comm.Redis.Prefix,
		TTL:      c.Comm.Redis.TTL,
		RunID:    runID,
		Rank:     rank,
		Size:     size,
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Paint.Nmesh <= 0 {
		return fmt.Errorf("paint.nmesh must be positive, got: %d", cfg.Paint.Nmesh)
	}
	if cfg.Paint.Procs <= 0 {
		return fmt.Errorf("paint.procs must be positive, got: %d", cfg.Paint.Procs)
	}
	if dim := storage.ParseDim(cfg.Paint.Dim); dim != storage.Dim1D && dim != storage.Dim2D {
		return fmt.Errorf("paint.dim must be 1d or 2d, got: %s", cfg.Paint.Dim)
	}
	if _, err := stats.ParseAxis(cfg.Paint.Axis); err != nil {
		return fmt.Errorf("paint.axis: %w", err)
	}
	switch cfg.Comm.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("comm.backend must be local or redis, got: %s", cfg.Comm.Backend)
	}
	if cfg.Server.MaxProcs <= 0 {
		return fmt.Errorf("server.max_procs must be positive, got: %d", cfg.Server.MaxProcs)
	}
	if cfg.Server.MaxCells <= 0 {
		return fmt.Errorf("server.max_cells must be positive, got: %d", cfg.Server.MaxCells)
	}
	if cfg.Comm.Redis.TTL <= 0 {
		return fmt.Errorf("comm.redis.ttl must be positive, got: %s", cfg.Comm.Redis.TTL)
	}
	if err := cfg.Cosmology.Validate(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
