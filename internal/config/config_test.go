package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "50M", cfg.Server.BodyLimit)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "local", cfg.Staging.Backend)
	assert.NotEmpty(t, cfg.Staging.Dir)
	assert.Equal(t, 1000, cfg.Engine.ChunkSize)
	assert.Equal(t, time.Second, cfg.Engine.ProgressInterval)
	assert.Equal(t, 24*time.Hour, cfg.Registry.Retention)
	assert.Equal(t, 10, cfg.Registry.Quota)
	assert.Equal(t, 10*time.Minute, cfg.Registry.SweepInterval)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoad_UnchangedFlagsKeepDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Engine.ChunkSize)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bulkops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
engine:
  chunk_size: 250
registry:
  quota: 5
log:
  format: json
`), 0o600))

	t.Setenv("BULKOPS_ENGINE_CHUNK_SIZE", "500")
	t.Setenv("BULKOPS_REGISTRY_RETENTION", "2h")

	cfg, err := Load(newFlags(t, "--config", path, "--registry.quota", "3"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port, "file overrides default")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 500, cfg.Engine.ChunkSize, "env overrides file")
	assert.Equal(t, 2*time.Hour, cfg.Registry.Retention)
	assert.Equal(t, 3, cfg.Registry.Quota, "flag overrides file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero chunk size", []string{"--engine.chunk_size", "0"}},
		{"zero quota", []string{"--registry.quota", "0"}},
		{"zero retention", []string{"--registry.retention", "0s"}},
		{"zero progress interval", []string{"--engine.progress_interval", "0s"}},
		{"unknown driver", []string{"--db.driver", "mysql"}},
		{"postgres without dsn", []string{"--db.driver", "postgres"}},
		{"unknown backend", []string{"--staging.backend", "s3"}},
		{"gcs without bucket", []string{"--staging.backend", "gcs"}},
		{"negative rate", []string{"--ratelimit.per_minute=-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tt.args...))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "engine.chunk_size", envKey("BULKOPS_ENGINE_CHUNK_SIZE"))
	assert.Equal(t, "server.port", envKey("BULKOPS_SERVER_PORT"))
	assert.Equal(t, "", envKey("BULKOPS_CONFIG"))
}

func TestLoad_IgnoresUnrelatedFlags(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	BindFlags(flags)
	flags.String("db", "", "")
	flags.String("file", "", "")
	require.NoError(t, flags.Parse([]string{"--db", "other.db", "--file", "lots.csv"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, "listings.db", cfg.DB.Path)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
}
