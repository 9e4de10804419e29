package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dandytbermillo/annotation/pkg/types"
	"gopkg.in/yaml.v3"
)

// Defaults per the persistence contract.
const (
	DefaultPoolSize        = 10
	DefaultIdleTimeout     = 30 * time.Second
	DefaultAcquireTimeout  = 2 * time.Second
	DefaultUpdateThreshold = 100
	DefaultSizeThreshold   = 1 << 20
	DefaultAgeThreshold    = 24 * time.Hour
	DefaultKeepSnapshots   = 3
	DefaultSweepInterval   = 5 * time.Minute
)

// Config holds every tunable of the persistence core.
type Config struct {
	DatabaseURL    string        `yaml:"database_url"`
	PoolSize       int           `yaml:"pool_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	BatchPreset string `yaml:"batch_preset"`

	UpdateThreshold int           `yaml:"update_threshold"`
	SizeThreshold   int64         `yaml:"size_threshold"`
	AgeThreshold    time.Duration `yaml:"age_threshold"`
	KeepSnapshots   int           `yaml:"keep_snapshots"`
	AutoCompact     bool          `yaml:"auto_compact"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`

	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a config with every knob at its default. DatabaseURL is
// intentionally empty; Validate rejects it until the caller supplies one.
func Default() Config {
	return Config{
		PoolSize:        DefaultPoolSize,
		IdleTimeout:     DefaultIdleTimeout,
		AcquireTimeout:  DefaultAcquireTimeout,
		BatchPreset:     "web",
		UpdateThreshold: DefaultUpdateThreshold,
		SizeThreshold:   DefaultSizeThreshold,
		AgeThreshold:    DefaultAgeThreshold,
		KeepSnapshots:   DefaultKeepSnapshots,
		AutoCompact:     true,
		SweepInterval:   DefaultSweepInterval,
		ListenAddr:      ":8080",
	}
}

// FromEnv builds a config from the process environment on top of defaults.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookup("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookup("BATCH_PRESET"); ok {
		cfg.BatchPreset = v
	}

	var err error
	if cfg.PoolSize, err = intVar(lookup, "POOL_SIZE", cfg.PoolSize); err != nil {
		return cfg, err
	}
	if cfg.UpdateThreshold, err = intVar(lookup, "COMPACT_UPDATE_THRESHOLD", cfg.UpdateThreshold); err != nil {
		return cfg, err
	}
	if cfg.KeepSnapshots, err = intVar(lookup, "KEEP_SNAPSHOTS", cfg.KeepSnapshots); err != nil {
		return cfg, err
	}
	if v, ok := lookup("COMPACT_SIZE_THRESHOLD"); ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return cfg, types.ConfigError("COMPACT_SIZE_THRESHOLD: %v", perr)
		}
		cfg.SizeThreshold = n
	}
	if cfg.IdleTimeout, err = durationVar(lookup, "IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return cfg, err
	}
	if cfg.AcquireTimeout, err = durationVar(lookup, "ACQUIRE_TIMEOUT", cfg.AcquireTimeout); err != nil {
		return cfg, err
	}
	if cfg.AgeThreshold, err = durationVar(lookup, "COMPACT_AGE_THRESHOLD", cfg.AgeThreshold); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = durationVar(lookup, "COMPACT_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return cfg, err
	}
	if v, ok := lookup("AUTO_COMPACT"); ok {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return cfg, types.ConfigError("AUTO_COMPACT: %v", perr)
		}
		cfg.AutoCompact = b
	}

	return cfg, nil
}

// LoadFile overlays a YAML config file onto cfg. Missing keys keep their
// current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ConfigError("read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.ConfigError("parse config file %s: %v", path, err)
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return types.ConfigError("database URL is required")
	}
	if c.PoolSize < 1 {
		return types.ConfigError("pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.AcquireTimeout <= 0 {
		return types.ConfigError("acquire_timeout must be > 0, got %v", c.AcquireTimeout)
	}
	if c.KeepSnapshots < 1 {
		return types.ConfigError("keep_snapshots must be >= 1, got %d", c.KeepSnapshots)
	}
	if c.UpdateThreshold < 1 {
		return types.ConfigError("update_threshold must be >= 1, got %d", c.UpdateThreshold)
	}
	if c.SizeThreshold < 1 {
		return types.ConfigError("size_threshold must be >= 1, got %d", c.SizeThreshold)
	}
	if _, ok := types.BatchPreset(c.BatchPreset); !ok {
		return types.ConfigError("unknown batch preset %q", c.BatchPreset)
	}
	return nil
}

// Batch resolves the configured batching preset.
func (c Config) Batch() types.BatchConfig {
	preset, _ := types.BatchPreset(c.BatchPreset)
	return preset
}

func intVar(lookup func(string) (string, bool), name string, def int) (int, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, types.ConfigError("%s: %v", name, err)
	}
	return n, nil
}

func durationVar(lookup func(string) (string, bool), name string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Accept bare seconds for compatibility with the older env format.
		if n, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(n) * time.Second, nil
		}
		return def, types.ConfigError("%s: %v", name, err)
	}
	return d, nil
}

// String renders the config for startup logs with the DSN redacted.
func (c Config) String() string {
	return fmt.Sprintf("pool_size=%d preset=%s update_threshold=%d size_threshold=%d age_threshold=%v keep=%d auto_compact=%v",
		c.PoolSize, c.BatchPreset, c.UpdateThreshold, c.SizeThreshold, c.AgeThreshold, c.KeepSnapshots, c.AutoCompact)
}
