package clientcli_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrennan/carton/clientcli"
)

func testConfigFile() *clientcli.ConfigFile {
	return &clientcli.ConfigFile{
		Profiles: []clientcli.Profile{
			{Name: "local", Endpoint: "http://localhost:5710", OwnerID: "alice"},
			{Name: "prod", Endpoint: "https://storage.example.com", OwnerID: "svc-media", Default: true},
		},
	}
}

func TestConfigFile_GetProfile(t *testing.T) {
	cfg := testConfigFile()

	t.Run("by name", func(t *testing.T) {
		p, err := cfg.GetProfile("local")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:5710", p.Endpoint)
		assert.Equal(t, "alice", p.OwnerID)
	})

	t.Run("empty name returns default", func(t *testing.T) {
		p, err := cfg.GetProfile("")
		require.NoError(t, err)
		assert.Equal(t, "prod", p.Name)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := cfg.GetProfile("staging")
		assert.ErrorIs(t, err, clientcli.ErrProfileNotFound)
	})

	t.Run("no profiles", func(t *testing.T) {
		empty := &clientcli.ConfigFile{}
		_, err := empty.GetProfile("local")
		assert.ErrorIs(t, err, clientcli.ErrNoProfiles)
	})
}

func TestConfigFile_GetDefaultProfile_FallsBackToFirst(t *testing.T) {
	cfg := &clientcli.ConfigFile{
		Profiles: []clientcli.Profile{
			{Name: "a", Endpoint: "http://a.example.com"},
			{Name: "b", Endpoint: "http://b.example.com"},
		},
	}

	p, err := cfg.GetDefaultProfile()
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name)
}

func TestConfigFile_AddProfile(t *testing.T) {
	cfg := testConfigFile()

	t.Run("new profile appends", func(t *testing.T) {
		err := cfg.AddProfile(clientcli.Profile{Name: "staging", Endpoint: "http://staging.example.com"})
		require.NoError(t, err)
		assert.Len(t, cfg.Profiles, 3)
	})

	t.Run("same name replaces", func(t *testing.T) {
		err := cfg.AddProfile(clientcli.Profile{Name: "local", Endpoint: "http://127.0.0.1:9999"})
		require.NoError(t, err)
		assert.Len(t, cfg.Profiles, 3)

		p, err := cfg.GetProfile("local")
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:9999", p.Endpoint)
	})
}

func TestConfigFile_RemoveProfile(t *testing.T) {
	cfg := testConfigFile()

	err := cfg.RemoveProfile("local")
	require.NoError(t, err)
	assert.Len(t, cfg.Profiles, 1)

	err = cfg.RemoveProfile("local")
	assert.ErrorIs(t, err, clientcli.ErrProfileNotFound)
}

func TestConfigFile_SetDefault(t *testing.T) {
	cfg := testConfigFile()

	err := cfg.SetDefault("local")
	require.NoError(t, err)

	p, err := cfg.GetDefaultProfile()
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name)

	// The previous default must be cleared.
	prod, err := cfg.GetProfile("prod")
	require.NoError(t, err)
	assert.False(t, prod.Default)

	err = cfg.SetDefault("missing")
	assert.ErrorIs(t, err, clientcli.ErrProfileNotFound)
}

func TestConfigFile_SaveAndLoad(t *testing.T) {
	cfg := testConfigFile()

	// Save into a nested path that does not exist yet
	path := filepath.Join(t.TempDir(), ".carton", "config.yaml")
	err := cfg.Save(path)
	require.NoError(t, err)

	loaded, err := clientcli.LoadConfigFile(path)
	require.NoError(t, err)
	require.Len(t, loaded.Profiles, 2)
	assert.Equal(t, "local", loaded.Profiles[0].Name)
	assert.Equal(t, "alice", loaded.Profiles[0].OwnerID)
	assert.True(t, loaded.Profiles[1].Default)
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := clientcli.LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := (&clientcli.Config{}).WithDefaults()
	assert.Equal(t, clientcli.DefaultEndpoint, cfg.Endpoint)

	cfg = (&clientcli.Config{Endpoint: "http://other:1234"}).WithDefaults()
	assert.Equal(t, "http://other:1234", cfg.Endpoint)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CARTON_ENDPOINT", "https://env.example.com")
	t.Setenv("CARTON_OWNER_ID", "env-owner")

	cfg := clientcli.ConfigFromEnv()
	assert.Equal(t, "https://env.example.com", cfg.Endpoint)
	assert.Equal(t, "env-owner", cfg.OwnerID)
}

func TestMergeConfig(t *testing.T) {
	base := &clientcli.Config{Endpoint: "http://base", OwnerID: "base-owner"}
	override := &clientcli.Config{Endpoint: "http://override"}

	merged := clientcli.MergeConfig(base, override, nil)

	// Later configs win, but empty fields do not clobber earlier values.
	assert.Equal(t, "http://override", merged.Endpoint)
	assert.Equal(t, "base-owner", merged.OwnerID)
}
