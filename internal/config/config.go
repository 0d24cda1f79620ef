// Package config loads engine settings from defaults, an optional YAML
// file, BULKOPS_ environment variables and command-line flags, in that
// order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "BULKOPS_"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	DB        DBConfig        `koanf:"db"`
	Staging   StagingConfig   `koanf:"staging"`
	Engine    EngineConfig    `koanf:"engine"`
	Registry  RegistryConfig  `koanf:"registry"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

type ServerConfig struct {
	Port      int    `koanf:"port"`
	BodyLimit string `koanf:"body_limit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type DBConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

type StagingConfig struct {
	Backend string `koanf:"backend"`
	Dir     string `koanf:"dir"`
	Bucket  string `koanf:"bucket"`
	Prefix  string `koanf:"prefix"`
}

type EngineConfig struct {
	ChunkSize        int           `koanf:"chunk_size"`
	ProgressInterval time.Duration `koanf:"progress_interval"`
}

type RegistryConfig struct {
	Retention     time.Duration `koanf:"retention"`
	Quota         int           `koanf:"quota"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type RateLimitConfig struct {
	PerMinute int `koanf:"per_minute"`
	Burst     int `koanf:"burst"`
}

// Defaults returns the baseline every other source overrides.
func Defaults() map[string]any {
	return map[string]any{
		"server.port":              8080,
		"server.body_limit":        "50M",
		"log.level":                "info",
		"log.format":               "console",
		"db.driver":                "sqlite",
		"db.path":                  "listings.db",
		"db.dsn":                   "",
		"staging.backend":          "local",
		"staging.dir":              filepath.Join(os.TempDir(), "bulkops-staging"),
		"staging.bucket":           "",
		"staging.prefix":           "imports/",
		"engine.chunk_size":        1000,
		"engine.progress_interval": "1s",
		"registry.retention":       "24h",
		"registry.quota":           10,
		"registry.sweep_interval":  "10m",
		"ratelimit.per_minute":     30,
		"ratelimit.burst":          10,
	}
}

// BindFlags registers one flag per configuration key on flags.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.Int("server.port", 8080, "HTTP port")
	flags.String("server.body_limit", "50M", "maximum upload size")
	flags.String("log.level", "info", "log level (debug, info, warn, error)")
	flags.String("log.format", "console", "log format (console, json)")
	flags.String("db.driver", "sqlite", "listing store (sqlite, postgres)")
	flags.String("db.path", "listings.db", "SQLite database file")
	flags.String("db.dsn", "", "Postgres connection string")
	flags.String("staging.backend", "local", "upload staging backend (local, gcs)")
	flags.String("staging.dir", "", "local staging directory")
	flags.String("staging.bucket", "", "GCS staging bucket")
	flags.String("staging.prefix", "imports/", "GCS object prefix")
	flags.Int("engine.chunk_size", 1000, "records committed per batch")
	flags.Duration("engine.progress_interval", time.Second, "minimum interval between progress writes")
	flags.Duration("registry.retention", 24*time.Hour, "how long finished jobs stay queryable")
	flags.Int("registry.quota", 10, "jobs retained per submitter")
	flags.Duration("registry.sweep_interval", 10*time.Minute, "periodic registry sweep interval")
	flags.Int("ratelimit.per_minute", 30, "submissions per submitter per minute, 0 disables")
	flags.Int("ratelimit.burst", 10, "submission burst per submitter")
}

// Load merges every source and validates the result. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("error loading defaults: %w", err)
	}

	path := os.Getenv(EnvPrefix + "CONFIG")
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("error loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(knownFlags(flags), ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("error loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Staging.Dir == "" {
		cfg.Staging.Dir = filepath.Join(os.TempDir(), "bulkops-staging")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// knownFlags narrows flags to the configuration keys so command-specific
// flags never shadow a config section.
func knownFlags(flags *pflag.FlagSet) *pflag.FlagSet {
	keys := Defaults()
	known := pflag.NewFlagSet(flags.Name(), pflag.ContinueOnError)
	flags.VisitAll(func(f *pflag.Flag) {
		if _, ok := keys[f.Name]; ok {
			known.AddFlag(f)
		}
	})
	return known
}

// envKey maps BULKOPS_ENGINE_CHUNK_SIZE to engine.chunk_size. Only the
// first underscore separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "config" {
		return ""
	}
	return strings.Replace(s, "_", ".", 1)
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			errs = append(errs, errors.New("db.path is required for sqlite"))
		}
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	switch c.Staging.Backend {
	case "local":
	case "gcs":
		if c.Staging.Bucket == "" {
			errs = append(errs, errors.New("staging.bucket is required for gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown staging.backend %q", c.Staging.Backend))
	}
	if c.Engine.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.chunk_size must be positive: %d", c.Engine.ChunkSize))
	}
	if c.Engine.ProgressInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.progress_interval must be positive: %s", c.Engine.ProgressInterval))
	}
	if c.Registry.Retention <= 0 {
		errs = append(errs, fmt.Errorf("registry.retention must be positive: %s", c.Registry.Retention))
	}
	if c.Registry.Quota <= 0 {
		errs = append(errs, fmt.Errorf("registry.quota must be positive: %d", c.Registry.Quota))
	}
	if c.Registry.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("registry.sweep_interval must be positive: %s", c.Registry.SweepInterval))
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values cannot be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
