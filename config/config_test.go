package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrennan/carton/config"
)

func TestLoad_Defaults(t *testing.T) {
	// Load with no config files should use defaults
	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 5710, cfg.Server.Port)
	assert.Equal(t, "http://localhost:5710", cfg.Server.BaseURL)
	assert.Equal(t, int64(0), cfg.Server.MaxUploadSize)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.Equal(t, "./staging", cfg.Storage.StagingPath)
	assert.Equal(t, 24*time.Hour, cfg.Multipart.TTL)
	assert.Equal(t, time.Hour, cfg.Multipart.SweepInterval)
	assert.Empty(t, cfg.Presign.Secret)
	assert.True(t, cfg.Metadata.Enabled)
	assert.Equal(t, "sqlite", cfg.Metadata.Registry.Type)
	assert.Equal(t, "carton.db", cfg.Metadata.Registry.DSN)
	assert.Equal(t, "carton_objects", cfg.Metadata.Registry.Table)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
  base_url: https://storage.example.com
storage:
  path: /srv/carton/data
  staging_path: /srv/carton/staging
multipart:
  ttl: 48h
  sweep_interval: 30m
presign:
  secret: super-secret-signing-key
metadata:
  enabled: false
  registry:
    type: postgres
    dsn: postgres://localhost/carton
    table: custom_objects
log:
  level: debug
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://storage.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "/srv/carton/data", cfg.Storage.Path)
	assert.Equal(t, "/srv/carton/staging", cfg.Storage.StagingPath)
	assert.Equal(t, 48*time.Hour, cfg.Multipart.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Multipart.SweepInterval)
	assert.Equal(t, "super-secret-signing-key", cfg.Presign.Secret)
	assert.False(t, cfg.Metadata.Enabled)
	assert.Equal(t, "postgres", cfg.Metadata.Registry.Type)
	assert.Equal(t, "postgres://localhost/carton", cfg.Metadata.Registry.DSN)
	assert.Equal(t, "custom_objects", cfg.Metadata.Registry.Table)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFileMerge(t *testing.T) {
	tmpDir := t.TempDir()

	basePath := filepath.Join(tmpDir, "base.yaml")
	baseContent := `
server:
  port: 5710
storage:
  path: ./data
log:
  level: info
`
	err := os.WriteFile(basePath, []byte(baseContent), 0o644)
	require.NoError(t, err)

	overridePath := filepath.Join(tmpDir, "override.yaml")
	overrideContent := `
server:
  port: 9000
log:
  level: warn
`
	err = os.WriteFile(overridePath, []byte(overrideContent), 0o644)
	require.NoError(t, err)

	// Later files override earlier ones
	cfg, err := config.Load([]string{basePath, overridePath}, nil)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)

	// Preserved values from base
	assert.Equal(t, "./data", cfg.Storage.Path)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CARTON_SERVER_PORT", "7777")
	t.Setenv("CARTON_PRESIGN_SECRET", "env-supplied-secret-key")
	t.Setenv("CARTON_METADATA_REGISTRY_TYPE", "postgres")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-supplied-secret-key", cfg.Presign.Secret)
	assert.Equal(t, "postgres", cfg.Metadata.Registry.Type)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("CARTON_SERVER_PORT", "7777")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("storage-path", "", "")
	require.NoError(t, flags.Parse([]string{"--port=8888", "--storage-path=/mnt/objects"}))

	cfg, err := config.Load(nil, flags)
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, "/mnt/objects", cfg.Storage.Path)
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 1234, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := config.Load(nil, flags)
	require.NoError(t, err)

	// A flag left at its default must not clobber the config default.
	assert.Equal(t, 5710, cfg.Server.Port)
}

func TestLoad_ValidationError_InvalidPort(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 99999\n"), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_InvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("log:\n  level: loud\n"), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_ShortPresignSecret(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("presign:\n  secret: tooshort\n"), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_ShortSweepInterval(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("multipart:\n  sweep_interval: 5s\n"), 0o644)
	require.NoError(t, err)

	_, err = config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestWithContext_RoundTrip(t *testing.T) {
	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	ctx := config.WithContext(context.Background(), cfg)

	got, err := config.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestFromContext_Missing(t *testing.T) {
	_, err := config.FromContext(context.Background())
	assert.Error(t, err)
}
